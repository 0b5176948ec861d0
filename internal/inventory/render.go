package inventory

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"cloudfleet/internal/cloud"
)

// Output formats accepted by Render.
const (
	FormatTable = "table"
	FormatYAML  = "yaml"
	FormatJSON  = "json"
)

// Render writes instances to w in the given format.
func Render(w io.Writer, format string, instances []cloud.Instance) error {
	switch format {
	case "", FormatTable:
		return renderTable(w, instances)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(instances); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(instances); err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func renderTable(w io.Writer, instances []cloud.Instance) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tPROJECT\tLOCATION\tID\tNAME\tTYPE\tSTATUS")
	for _, inst := range instances {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			inst.Provider, dash(inst.Project), inst.Location, inst.ID, dash(inst.Name), inst.MachineClass, inst.Status)
	}
	return tw.Flush()
}

// RenderFailures writes one line per failed scope.
func RenderFailures(w io.Writer, failures []Failure) {
	for _, f := range failures {
		fmt.Fprintf(w, "warning: %s %s: %s\n", f.Provider, f.Scope, f.Error)
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
