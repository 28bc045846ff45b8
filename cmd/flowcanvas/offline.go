package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rendis/flowcanvas/internal/diagram"
	"github.com/rendis/flowcanvas/internal/logging"
	"github.com/rendis/flowcanvas/internal/workspace"
	"github.com/rendis/flowcanvas/pkg/schema"
)

// errInvalid signals a failed check whose details were already printed.
var errInvalid = errors.New("scenario has errors")

func readScenario(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// mountFile loads a scenario file into a throwaway workspace.
func mountFile(cmd *cobra.Command, path string) (*workspace.Workspace, *workspace.MountResult, error) {
	raw, err := readScenario(path, cmd.InOrStdin())
	if err != nil {
		return nil, nil, err
	}
	cfg := loadConfig()
	ws, err := workspace.New("", workspace.Options{
		Logger:  logging.New(cmd.ErrOrStderr(), "warn"),
		Layout:  cfg.layoutConfig(),
		Session: cfg.sessionConfig(),
	})
	if err != nil {
		return nil, nil, err
	}
	res, err := ws.MountJSON(raw)
	if err != nil {
		ws.Close()
		return nil, nil, err
	}
	return ws, res, nil
}

func layoutCmd() *cobra.Command {
	var direction string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "layout <scenario.json>",
		Short: "Lay out a scenario and print node positions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, err := mountFile(cmd, args[0])
			if err != nil {
				return err
			}
			defer ws.Close()

			if direction != "" {
				if err := ws.SetLayoutDirection(schema.LayoutDirection(strings.ToUpper(direction))); err != nil {
					return err
				}
			}
			if _, err := ws.ApplyLayout(); err != nil {
				return err
			}
			snap := ws.Snapshot()
			if asJSON {
				return printJSON(cmd.OutOrStdout(), snap)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s %s  %s\n\n", Brand.Sprint("layout"), args[0],
				Subtle.Sprintf("direction %s, %d nodes", snap.Direction, len(snap.Nodes)))
			nodes := append([]*schema.Node(nil), snap.Nodes...)
			sort.Slice(nodes, func(i, j int) bool {
				if nodes[i].Position.Y != nodes[j].Position.Y {
					return nodes[i].Position.Y < nodes[j].Position.Y
				}
				return nodes[i].Position.X < nodes[j].Position.X
			})
			rows := make([][]string, 0, len(nodes))
			for _, n := range nodes {
				rows = append(rows, []string{
					n.ID, string(n.Kind),
					strconv.FormatFloat(n.Position.X, 'f', 0, 64),
					strconv.FormatFloat(n.Position.Y, 'f', 0, 64),
					configuredMark(n.IsConfigured),
				})
			}
			table(cmd.OutOrStdout(), []string{"NODE", "KIND", "X", "Y", "CONFIGURED"}, rows)
			return nil
		},
	}
	cmd.Flags().StringVarP(&direction, "direction", "d", "", "layout direction: TB or LR")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the laid-out snapshot as JSON")
	return cmd
}

func configuredMark(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <scenario.json>",
		Short: "Check a scenario's shape and flow integrity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			ws, _, err := mountFile(cmd, args[0])
			if err != nil {
				var ce *schema.CanvasError
				if errors.As(err, &ce) && ce.Code == schema.ErrCodeValidation {
					fmt.Fprintf(out, "%s %s\n", Bad.Sprint("✗"), ce.Message)
					if issues, ok := ce.Details["errors"].([]schema.ValidationIssue); ok {
						printIssues(out, issues, Bad)
					}
					return errInvalid
				}
				return err
			}
			defer ws.Close()

			res := ws.Validate()
			printIssues(out, res.Errors, Bad)
			printIssues(out, res.Warnings, Warn)
			if !res.Valid() {
				fmt.Fprintf(out, "%s %d errors, %d warnings\n", Bad.Sprint("✗"), len(res.Errors), len(res.Warnings))
				return errInvalid
			}
			fmt.Fprintf(out, "%s valid (%d warnings)\n", Good.Sprint("✓"), len(res.Warnings))
			return nil
		},
	}
}

func printIssues(w io.Writer, issues []schema.ValidationIssue, c interface{ Sprint(...any) string }) {
	for _, is := range issues {
		path := is.Path
		if path == "" {
			path = "/"
		}
		fmt.Fprintf(w, "  %s %s %s\n", c.Sprint(is.Code), Subtle.Sprint(path), is.Message)
	}
}

func queryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <scenario.json> <jq-expression>",
		Short: "Run a jq expression against a mounted scenario's snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, err := mountFile(cmd, args[0])
			if err != nil {
				return err
			}
			defer ws.Close()
			v, err := ws.Query(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), v)
		},
	}
}

func diagramCmd() *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "diagram <scenario.json>",
		Short: "Render a scenario as ascii, mermaid or png",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, err := mountFile(cmd, args[0])
			if err != nil {
				return err
			}
			defer ws.Close()

			model, err := diagram.Build(ws.Snapshot(), ws.Validate())
			if err != nil {
				return err
			}
			var data []byte
			switch format {
			case "ascii":
				data = []byte(diagram.RenderASCIIAuto(model, binDir()) + "\n")
			case "mermaid":
				data = []byte(diagram.RenderMermaid(model) + "\n")
			case "png":
				if out == "" {
					return fmt.Errorf("png output needs --out")
				}
				if data, err = diagram.RenderImage(model); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown format %q (want ascii, mermaid or png)", format)
			}
			if out == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s wrote %s\n", Good.Sprint("✓"), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "ascii", "ascii, mermaid or png")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to a file instead of stdout")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
