package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/cpcbridge/internal/replay"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect INDEX",
	Short: "Summarise a capture index",
	Long: `Validate a capture index and print its summary: packet counts per
direction and type, total bytes, and the effective replay duration spanning
the first to the last inbound packet.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var inspectJSON bool

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(inspectCmd)
}

// inspectReport is the human-readable form of replay.Summary.
type inspectReport struct {
	SessionID         string         `yaml:"session_id" json:"session_id"`
	Started           string         `yaml:"started" json:"started"`
	Packets           int            `yaml:"packets" json:"packets"`
	In                int            `yaml:"in" json:"in"`
	Out               int            `yaml:"out" json:"out"`
	Bytes             int64          `yaml:"bytes" json:"bytes"`
	SessionDuration   string         `yaml:"session_duration" json:"session_duration"`
	EffectiveDuration string         `yaml:"effective_duration" json:"effective_duration"`
	ByType            map[string]int `yaml:"by_type" json:"by_type"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	r, err := replay.OpenBlob(args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	idx, err := replay.LoadIndex(r)
	if err != nil {
		return err
	}

	s := idx.Summarize()
	report := inspectReport{
		SessionID:         s.SessionID,
		Packets:           s.Packets,
		In:                s.In,
		Out:               s.Out,
		Bytes:             s.Bytes,
		SessionDuration:   s.SessionDuration.String(),
		EffectiveDuration: s.EffectiveDuration.String(),
		ByType:            s.ByType,
	}
	if !idx.Session.Started.IsZero() {
		report.Started = idx.Session.Started.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}

	out := cmd.OutOrStdout()
	if inspectJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	_, err = out.Write(data)
	return err
}
