package runtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/warriorguo/stemflow/types"
)

func newDAGRenderer() *dagRenderer {
	return &dagRenderer{nil, &strings.Builder{}}
}

type dagRenderer struct {
	records map[string]*types.NodeTraceRecord
	sb      *strings.Builder
}

func (d *dagRenderer) setRecords(result *types.RunResult) {
	d.records = make(map[string]*types.NodeTraceRecord)
	if result != nil && result.Records != nil {
		d.records = result.Records
	}
}

// generateDOT draws nodes in registration order and an edge per declared dependency.
func (d *dagRenderer) generateDOT(name string, order []string, nodes map[string]*types.Node, result *types.RunResult) string {
	d.setRecords(result)

	d.write("digraph D {")
	for _, id := range order {
		d.drawNode(name+".", id, nodes[id])
	}
	for _, id := range order {
		for i, dep := range nodes[id].DependsOn {
			label := ""
			if len(nodes[id].DependsOn) > 1 {
				label = fmt.Sprintf(" [label=\"%d\"]", i)
			}
			d.write("%s -> %s%s", idString(name+"."+dep), idString(name+"."+id), label)
		}
	}
	d.write("label=%s", quoteString(name))
	d.write("}")
	return d.sb.String()
}

func packToComment(r *types.NodeTraceRecord) string {
	s, _ := json.Marshal(r)
	return formatNL(addSlashes(string(s)))
}

func (d *dagRenderer) calcAttr(name string) string {
	record, exists := d.records[name]
	if !exists {
		return ""
	}

	color := ""
	switch {
	case record.StartTime.IsZero():
		color = "white"
	case record.EndTime.IsZero():
		color = "yellow"
	case record.Error != "":
		color = "red"
	default:
		color = "green"
	}
	return fmt.Sprintf(" style=\"filled\" color=\"%s\" comment=\"%s\"", color, packToComment(record))
}

func (d *dagRenderer) drawNode(prefix, name string, node *types.Node) {
	shape := "record"
	if node != nil && node.Condition != nil {
		shape = "diamond"
	}
	d.write("%s [label=%s shape=\"%s\"%s]", idString(prefix+name), d.label(name), shape, d.calcAttr(name))
}

// label appends the run time of a finished node.
func (d *dagRenderer) label(name string) string {
	record, exists := d.records[name]
	if !exists || record.StartTime.IsZero() || record.EndTime.IsZero() {
		return quoteString(name)
	}
	took := record.EndTime.Sub(record.StartTime).Round(time.Millisecond)
	return quoteString(name) + " xlabel=" + quoteString(took.String())
}

func (d *dagRenderer) write(format string, s ...any) {
	d.sb.WriteString(fmt.Sprintf(format+"\n", s...))
}

var (
	slashesToken = []string{"\\", "\"", "'", " "}
)

func addSlashes(s string) string {
	for _, token := range slashesToken {
		s = strings.ReplaceAll(s, token, "\\"+token)
	}
	return s
}

func formatNL(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

func quoteString(s string) string {
	return "\"" + strings.ReplaceAll(s, "\"", "\\\"") + "\""
}

var idleChars = []string{" ", "'", "\"", "(", ")", "*", "&", "^", "%", "$", "#", "@", "!", "?", "<", ">", "[", "]", "{", "}", ".", "-"}

func idString(s string) string {
	for _, ch := range idleChars {
		s = strings.ReplaceAll(s, ch, "_")
	}
	return s
}
