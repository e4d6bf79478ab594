package output

import "strings"

func markdownTable(header []string, rows [][]string) string {
	var sb strings.Builder
	writeMarkdownRow(&sb, header)
	sep := make([]string, len(header))
	for i := range sep {
		sep[i] = "---"
	}
	writeMarkdownRow(&sb, sep)
	for _, row := range rows {
		writeMarkdownRow(&sb, row)
	}
	return sb.String()
}

func writeMarkdownRow(sb *strings.Builder, cells []string) {
	sb.WriteString("|")
	for _, cell := range cells {
		sb.WriteString(" ")
		sb.WriteString(escapeMarkdownCell(cell))
		sb.WriteString(" |")
	}
	sb.WriteString("\n")
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
