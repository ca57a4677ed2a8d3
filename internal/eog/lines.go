package eog

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/Richardsss22/NoZZZ/internal/models"
)

// HeadDownToken is the literal line the firmware prints after the head has
// stayed down for 7.5s.
const HeadDownToken = "HEAD_DOWN_7S"

// lineKind classifies one framed line.
type lineKind int

const (
	lineIgnored lineKind = iota
	lineHeadDown
	lineCalibrationFailed
	lineCalibrationDone
	lineRealtime
	lineMinute
)

// The firmware has no structured status codes; the patterns stay loose so
// small wording changes keep matching.
var (
	calFailedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)poorly\s*done`),
		regexp.MustCompile(`(?i)try\s*again`),
		regexp.MustCompile(`(?i)mal.*efetuada`),
		regexp.MustCompile(`(?i)tente\s*novamente`),
	}
	calDonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)complete`),
		regexp.MustCompile(`(?i)success`),
		regexp.MustCompile(`(?i)conclu`),
		regexp.MustCompile(`(?i)sucesso`),
	}
	minuteLabel = regexp.MustCompile(`^M(\d+)$`)
)

// parsedLine is the result of classifying a line.
type parsedLine struct {
	kind      lineKind
	telemetry models.TelemetryRecord
	minute    models.MinuteSummary
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// classifyLine never fails: anything it cannot understand is lineIgnored.
func classifyLine(line string) parsedLine {
	line = strings.TrimSpace(line)
	if line == "" {
		return parsedLine{kind: lineIgnored}
	}
	if line == HeadDownToken {
		return parsedLine{kind: lineHeadDown}
	}
	if matchAny(calFailedPatterns, line) {
		return parsedLine{kind: lineCalibrationFailed}
	}
	if matchAny(calDonePatterns, line) {
		return parsedLine{kind: lineCalibrationDone}
	}
	if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
		return parseArray(line)
	}
	return parsedLine{kind: lineIgnored}
}

func parseArray(line string) parsedLine {
	var arr []interface{}
	if err := json.Unmarshal([]byte(line), &arr); err != nil || len(arr) == 0 {
		return parsedLine{kind: lineIgnored}
	}
	tag, _ := arr[0].(string)

	if tag == "RT" {
		if len(arr) < 5 {
			return parsedLine{kind: lineIgnored}
		}
		var v [4]float64
		for i := range v {
			f, ok := finite(arr[i+1])
			if !ok {
				return parsedLine{kind: lineIgnored}
			}
			v[i] = f
		}
		return parsedLine{
			kind:      lineRealtime,
			telemetry: models.TelemetryRecord{T: v[0], EOG: v[1], Roll: v[2], Pitch: v[3]},
		}
	}

	m := minuteLabel.FindStringSubmatch(tag)
	if m == nil || len(arr) < 4 {
		return parsedLine{kind: lineIgnored}
	}
	minute, err := strconv.Atoi(m[1])
	if err != nil {
		return parsedLine{kind: lineIgnored}
	}
	normal, ok1 := finite(arr[1])
	slow, ok2 := finite(arr[2])
	flag, _ := arr[3].(string)
	if !ok1 || !ok2 || (flag != string(models.FlagNormal) && flag != string(models.FlagDrowsy)) {
		return parsedLine{kind: lineIgnored}
	}
	return parsedLine{
		kind: lineMinute,
		minute: models.MinuteSummary{
			Minute:       minute,
			NormalBlinks: int(normal),
			SlowBlinks:   int(slow),
			Flag:         models.MinuteFlag(flag),
		},
	}
}

// finite accepts JSON numbers and numeric strings.
func finite(v interface{}) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
