package summary

import (
	"regexp"
	"strings"

	"github.com/max-knox/PashaCapacitor-sub000/internal/meeting"
)

const (
	summaryMarker     = "Summary:"
	actionItemsMarker = "Action Items:"
	notesMarker       = "Additional Notes:"
)

var (
	reItemNumber = regexp.MustCompile(`\d+\.`)
	reWhat       = regexp.MustCompile(`What:(.*)`)
	reWho        = regexp.MustCompile(`Who:(.*)`)
	reSupervised = regexp.MustCompile(`Supervised by:(.*)`)
	reWhen       = regexp.MustCompile(`When:(.*)`)
	reStatus     = regexp.MustCompile(`Status:(.*)`)
)

// Result is the parsed model response
type Result struct {
	Summary     string
	ActionItems []meeting.ActionItem
}

// Parse extracts the summary and action items from a model response.
// It never fails; missing sections produce an empty summary or no items.
func Parse(content string) Result {
	return Result{
		Summary:     ExtractSummary(content),
		ActionItems: ExtractActionItems(content),
	}
}

// ExtractSummary returns the text between "Summary:" and the next section marker
func ExtractSummary(content string) string {
	start := strings.Index(content, summaryMarker)
	if start < 0 {
		return ""
	}
	rest := content[start+len(summaryMarker):]
	return strings.TrimSpace(cutAtMarkers(rest, actionItemsMarker, notesMarker))
}

// ExtractActionItems parses the numbered list following "Action Items:"
func ExtractActionItems(content string) []meeting.ActionItem {
	start := strings.Index(content, actionItemsMarker)
	if start < 0 {
		return []meeting.ActionItem{}
	}
	section := cutAtMarkers(content[start+len(actionItemsMarker):], notesMarker)

	items := []meeting.ActionItem{}
	for _, segment := range reItemNumber.Split(section, -1) {
		if strings.TrimSpace(segment) == "" {
			continue
		}

		item := meeting.ActionItem{
			What:   field(reWhat, segment),
			Who:    field(reWho, segment),
			When:   field(reWhen, segment),
			Status: field(reStatus, segment),
		}
		if item.Who == "" {
			item.Who = field(reSupervised, segment)
		}
		if item == (meeting.ActionItem{}) {
			continue
		}
		items = append(items, item.Normalize())
	}
	return items
}

func cutAtMarkers(s string, markers ...string) string {
	end := len(s)
	for _, marker := range markers {
		if i := strings.Index(s, marker); i >= 0 && i < end {
			end = i
		}
	}
	return s[:end]
}

// field returns the rest of the line after a label, without markdown emphasis
func field(re *regexp.Regexp, segment string) string {
	m := re.FindStringSubmatch(segment)
	if m == nil {
		return ""
	}
	return strings.Trim(m[1], " \t\r*_")
}
