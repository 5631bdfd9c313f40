package cmd

import (
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/cpcbridge/internal/catalog"
)

var capturesCmd = &cobra.Command{
	Use:   "captures",
	Short: "Capture catalog commands",
}

var capturesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalogued captures, newest first",
	RunE:  runCapturesList,
}

var capturesRunsCmd = &cobra.Command{
	Use:   "runs CAPTURE_ID",
	Short: "List replay runs of a capture",
	Args:  cobra.ExactArgs(1),
	RunE:  runCapturesRuns,
}

var capturesDeleteCmd = &cobra.Command{
	Use:   "delete CAPTURE_ID",
	Short: "Remove a capture and its runs from the catalog",
	Long:  "Remove a capture and its runs from the catalog. Files on disk are left untouched.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCapturesDelete,
}

var capturesLimit int

func init() {
	capturesListCmd.Flags().IntVarP(&capturesLimit, "limit", "n", 50, "maximum captures to list (0 for all)")
	capturesCmd.AddCommand(capturesListCmd, capturesRunsCmd, capturesDeleteCmd)
	rootCmd.AddCommand(capturesCmd)
}

func runCapturesList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openCatalog(cmd.Context(), cfg, slog.Default())
	if err != nil {
		return err
	}
	defer db.Close()

	captures, err := catalog.NewCaptureRepository(db.DB).List(cmd.Context(), capturesLimit)
	if err != nil {
		return fmt.Errorf("listing captures: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTARTED\tPACKETS\tBYTES\tEFFECTIVE\tCOMPRESSION")
	for _, c := range captures {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			c.ID, c.Name, c.StartedAt.Local().Format(time.DateTime), c.Packets, c.Bytes,
			(time.Duration(c.EffectiveMs) * time.Millisecond).String(), c.Compression)
	}
	return w.Flush()
}

func runCapturesRuns(cmd *cobra.Command, args []string) error {
	id, err := catalog.ParseULID(args[0])
	if err != nil {
		return fmt.Errorf("invalid capture id: %w", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openCatalog(cmd.Context(), cfg, slog.Default())
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := catalog.NewReplayRunRepository(db.DB).ListByCapture(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tOUTCOME\tDURATION\tEMITTED\tVIDEO\tDROPPED\tRESETS\tAUDIO\tUNDERRUN")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Outcome, r.Duration().Round(time.Millisecond),
			r.Emitted, r.VideoAdmitted, r.VideoDropped, r.DecoderResets, r.AudioAdmitted, r.AudioUnderrunBytes)
	}
	return w.Flush()
}

func runCapturesDelete(cmd *cobra.Command, args []string) error {
	id, err := catalog.ParseULID(args[0])
	if err != nil {
		return fmt.Errorf("invalid capture id: %w", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openCatalog(cmd.Context(), cfg, slog.Default())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := catalog.NewCaptureRepository(db.DB).Delete(cmd.Context(), id); err != nil {
		return fmt.Errorf("deleting capture: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
	return nil
}
