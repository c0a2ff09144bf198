package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/live-playground/internal/executor"
	"github.com/sakif/live-playground/internal/registry"
	"github.com/sakif/live-playground/internal/service"
)

type renderOptions struct {
	mode   string
	markup string
	style  string
	out    string
}

func newRenderCmd(opts *options) *cobra.Command {
	ro := &renderOptions{}

	cmd := &cobra.Command{
		Use:   "render <framework> <file>",
		Short: "Write the document a frontend framework renders for a source file",
		Example: `  playground render react App.jsx > preview.html
  playground render vue App.vue --mode advanced --markup index.html --style style.css -o out.html`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			req, err := ro.request(args[0], args[1])
			if err != nil {
				return err
			}

			reg, err := registry.Default()
			if err != nil {
				return err
			}
			svc := service.NewRenderService(reg, newLogger(cmd.ErrOrStderr(), cfg.Level()))
			doc, err := svc.Render(cmd.Context(), req)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if ro.out != "" {
				f, err := os.Create(ro.out)
				if err != nil {
					return fmt.Errorf("creating %s: %w", ro.out, err)
				}
				defer f.Close()
				w = f
			}
			_, err = io.WriteString(w, doc)
			return err
		},
	}
	cmd.Flags().StringVar(&ro.mode, "mode", string(executor.ModeSimple), "simple or advanced")
	cmd.Flags().StringVar(&ro.markup, "markup", "", "HTML file to splice into (advanced mode)")
	cmd.Flags().StringVar(&ro.style, "style", "", "CSS file to inline (advanced mode)")
	cmd.Flags().StringVarP(&ro.out, "output", "o", "", "write the document to a file instead of stdout")
	return cmd
}

func (ro *renderOptions) request(framework, path string) (service.RenderRequest, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return service.RenderRequest{}, fmt.Errorf("reading source: %w", err)
	}
	req := service.RenderRequest{Framework: framework, Code: string(code), Mode: ro.mode}
	if ro.markup == "" && ro.style == "" {
		return req, nil
	}

	files := &executor.Files{Code: string(code)}
	if ro.markup != "" {
		b, err := os.ReadFile(ro.markup)
		if err != nil {
			return req, fmt.Errorf("reading markup: %w", err)
		}
		files.Markup = string(b)
	}
	if ro.style != "" {
		b, err := os.ReadFile(ro.style)
		if err != nil {
			return req, fmt.Errorf("reading style: %w", err)
		}
		files.Style = string(b)
	}
	req.Files = files
	return req, nil
}
