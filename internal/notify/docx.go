package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/gomutex/godocx"
	"github.com/gomutex/godocx/docx"
)

const (
	fontName = "Times New Roman"
	fontSize = 13
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// DocxMinutes writes each notification as a Word document of meeting minutes
type DocxMinutes struct {
	dir string
}

// NewDocxMinutes creates a minutes writer rooted at dir
func NewDocxMinutes(dir string) *DocxMinutes {
	return &DocxMinutes{dir: dir}
}

// Path returns the file the minutes for a meeting are written to
func (d *DocxMinutes) Path(meetingID string, secondary bool) string {
	name := unsafeFileChars.ReplaceAllString(meetingID, "_")
	if secondary {
		name += "-secondary"
	}
	return filepath.Join(d.dir, name+".docx")
}

// Notify renders the minutes document
func (d *DocxMinutes) Notify(ctx context.Context, n Notification) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("create minutes dir: %w", err)
	}

	doc, err := godocx.NewDocument()
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}

	addRun(doc.AddParagraph(""), n.MeetingTitle, true, 16)
	if n.MeetingDateTime != "" {
		addRun(doc.AddParagraph(""), n.MeetingDateTime, false, fontSize)
	}
	doc.AddParagraph("")

	addRun(doc.AddParagraph(""), "Summary", true, 14)
	addRun(doc.AddParagraph(""), n.Summary, false, fontSize)
	doc.AddParagraph("")

	addRun(doc.AddParagraph(""), "Action Items", true, 14)
	if len(n.ActionItems) == 0 {
		addRun(doc.AddParagraph(""), "No action items.", false, fontSize)
	}
	for i, item := range n.ActionItems {
		p := doc.AddParagraph("")
		addRun(p, fmt.Sprintf("%d. %s", i+1, item.What), true, fontSize)
		addLabeled(doc.AddParagraph(""), "Who: ", item.Who)
		addLabeled(doc.AddParagraph(""), "When: ", item.When)
		addLabeled(doc.AddParagraph(""), "Status: ", item.Status)
	}

	path := d.Path(n.MeetingID, n.IsSecondary)
	if err := doc.SaveTo(path); err != nil {
		return fmt.Errorf("save minutes %s: %w", path, err)
	}
	return nil
}

func addRun(p *docx.Paragraph, text string, bold bool, size uint64) {
	run := p.AddText(text).Font(fontName).Size(size).Color("000000")
	if bold {
		run.Bold(true)
	}
}

func addLabeled(p *docx.Paragraph, label, value string) {
	p.AddText(label).Font(fontName).Size(fontSize).Color("000000").Bold(true)
	p.AddText(value).Font(fontName).Size(fontSize).Color("000000")
}
