package summary

import (
	"fmt"
	"strings"
)

// DirectoryEntry is a company team member the model may assign action items to
type DirectoryEntry struct {
	Name string `yaml:"name"`
	Role string `yaml:"role"`
}

// DefaultDirectory returns the built-in company directory
func DefaultDirectory() []DirectoryEntry {
	return []DirectoryEntry{
		{Name: "Steve Mikhov (Mr. Mikhov)", Role: "Boss, oversees meetings, asks questions"},
		{Name: "Jose Alba", Role: "General Manager, leads meetings, provides updates, deals with vendors"},
		{Name: "Jessica", Role: "Personal Assistant, handles scheduling"},
		{Name: "Kate", Role: "Personal Assistant, takes notes, provides additional information"},
		{Name: "Shawn", Role: "Personal Assistant, handles travel, experiences, food"},
		{Name: "Max", Role: "Software Engineer, works on websites, web apps, AI assistants, building Pasha (personal assistant chatbot)"},
		{Name: "Aryn", Role: "Marketing Professional, handles marketing campaigns, organizes expenses, invoices, issues payment methods"},
	}
}

// BuildPrompt renders the analysis prompt for a transcript.
// An empty directory falls back to DefaultDirectory.
func BuildPrompt(transcript string, secondary bool, directory []DirectoryEntry) string {
	if len(directory) == 0 {
		directory = DefaultDirectory()
	}

	var b strings.Builder
	b.WriteString("You are an AI assistant specialized in analyzing meeting transcripts for a company. ")
	b.WriteString("You have access to the following company directory:\n\n")
	b.WriteString("Company Directory:\n")
	for i, entry := range directory {
		fmt.Fprintf(&b, "%d. %s - %s\n", i+1, entry.Name, entry.Role)
	}
	b.WriteString("\n")

	if secondary {
		b.WriteString("Please analyze the following secondary meeting transcript and provide:\n\n")
		b.WriteString("1. A concise summary of the additional points discussed in this secondary transcript (max 3 sentences)\n")
		b.WriteString("2. A list of new or updated action items in the following format:\n")
	} else {
		b.WriteString("Please analyze the following meeting transcript and provide:\n\n")
		b.WriteString("1. A concise summary of the meeting (max 3 sentences)\n")
		b.WriteString("2. A list of action items in the following format:\n")
	}
	b.WriteString("   - What: [action to be taken]\n")
	b.WriteString("   - Who: [person responsible]\n")
	b.WriteString("   - When: [deadline or timeframe]\n")
	b.WriteString("   - Status: [current status]\n\n")

	b.WriteString("When assigning responsibility for action items:\n")
	b.WriteString("- Use the company directory to identify internal team members.\n")
	b.WriteString("- If an action is clearly for an outside vendor but the specific person is unknown, ")
	b.WriteString("use \"Supervised by: [Internal Team Member]\" instead of \"Who:\".\n")
	b.WriteString("- If you're unsure about who's responsible, make your best guess based on the roles in the company directory.\n\n")

	if secondary {
		b.WriteString("This is a secondary transcript. Please focus on identifying any new or updated action items ")
		b.WriteString("that weren't captured in the primary transcript.\n\n")
	}

	b.WriteString("Transcript:\n")
	b.WriteString(transcript)
	b.WriteString("\n\n")

	b.WriteString("Please format your response as follows:\n\n")
	b.WriteString("Summary: [Your summary here]\n\n")
	b.WriteString("Action Items:\n")
	b.WriteString("1. What: [action 1]\n")
	b.WriteString("   Who/Supervised by: [person 1 or internal supervisor]\n")
	b.WriteString("   When: [deadline 1]\n")
	b.WriteString("   Status: [status 1]\n")
	b.WriteString("[and so on for all action items]\n\n")
	b.WriteString("Additional Notes:\n")
	b.WriteString("- Include any important points or decisions that don't fit into action items.\n")
	b.WriteString("- If there are any unclear responsibilities or potential conflicts, note them at the end.\n")

	return b.String()
}
