package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"nexus/manuals/internal/app"
	"nexus/manuals/internal/projection"
	"nexus/manuals/internal/render"
)

var (
	tocCompact     bool
	tocViewID      string
	tocMappingFile string
	tocFormat      string

	renderViewID  string
	renderOutput  string
	renderPDF     bool
	renderCompact bool
	renderNoCover bool
	renderMarkers bool

	tocCmd = &cobra.Command{
		Use:   "toc <manual-id>",
		Short: "Print the table of contents of a manual",
		Long: `Print the table of contents of a manual as JSON or YAML.

Without --view the default view is used. --mapping previews an unsaved
view mapping read from a YAML file.`,
		Args: cobra.ExactArgs(1),
		RunE: runTOC,
	}
	renderCmd = &cobra.Command{
		Use:   "render <manual-id>",
		Short: "Render a manual to HTML or PDF",
		Args:  cobra.ExactArgs(1),
		RunE:  runRender,
	}
)

func init() {
	tocCmd.Flags().BoolVar(&tocCompact, "compact", false, "collapse single-document chapters")
	tocCmd.Flags().StringVar(&tocViewID, "view", "", "saved view id")
	tocCmd.Flags().StringVar(&tocMappingFile, "mapping", "", "YAML view mapping to preview")
	tocCmd.Flags().StringVar(&tocFormat, "format", "yaml", "output format: yaml or json")
	tocCmd.MarkFlagsMutuallyExclusive("view", "mapping")

	renderCmd.Flags().StringVar(&renderViewID, "view", "", "saved view id")
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "", "output file (defaults to the suggested filename)")
	renderCmd.Flags().BoolVar(&renderPDF, "pdf", false, "rasterize to PDF with Chromium")
	renderCmd.Flags().BoolVar(&renderCompact, "compact", false, "collapse single-document chapters")
	renderCmd.Flags().BoolVar(&renderNoCover, "no-cover", false, "omit the cover page")
	renderCmd.Flags().BoolVar(&renderMarkers, "revision-markers", false, "wrap each document body in start and end revision markers")

	rootCmd.AddCommand(tocCmd, renderCmd)
}

func runTOC(cmd *cobra.Command, args []string) error {
	input := app.TOCInput{Compact: tocCompact, ViewID: tocViewID}
	if tocMappingFile != "" {
		raw, err := os.ReadFile(tocMappingFile)
		if err != nil {
			return fmt.Errorf("read mapping: %w", err)
		}
		mapping, err := projection.ParseYAML(raw)
		if err != nil {
			return err
		}
		input.Mapping = &mapping
	}

	service, closeFn, err := openService(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	payload, err := service.TableOfContents(cmd.Context(), args[0], input)
	if err != nil {
		return err
	}
	return writeStructured(cmd.OutOrStdout(), tocFormat, payload)
}

func writeStructured(w io.Writer, format string, payload any) error {
	switch strings.ToLower(format) {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(payload)
	case "yaml", "":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(payload); err != nil {
			return err
		}
		return encoder.Close()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func runRender(cmd *cobra.Command, args []string) error {
	service, closeFn, err := openService(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	opts := render.DefaultOptions()
	opts.ViewID = renderViewID
	opts.Compact = renderCompact
	opts.IncludeCoverPage = !renderNoCover
	opts.IncludeRevisionMarkers = renderMarkers
	actor := app.Actor{UserID: "manualctl", UserName: "manualctl"}

	var (
		data     []byte
		filename string
		serial   string
	)
	if renderPDF {
		result, err := service.ExportPDF(cmd.Context(), actor, args[0], opts)
		if err != nil {
			return err
		}
		data, filename, serial = result.Data, result.Filename, result.Serial
	} else {
		out, err := service.RenderHTML(cmd.Context(), actor, args[0], opts)
		if err != nil {
			return err
		}
		data, serial = []byte(out.HTML), out.Serial
		filename = strings.TrimSuffix(out.Filename, "."+string(render.FormatPDF)) + ".html"
	}

	target := renderOutput
	if target == "" {
		target = filepath.Join(".", filename)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (serial %s)\n", target, serial)
	return nil
}
