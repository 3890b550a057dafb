package main

import (
	"github.com/spf13/cobra"

	"scrape/internal/fetch"
	"scrape/internal/parse"
)

func newInspectCmd(a *app) *cobra.Command {
	var (
		selector string
		url      string
		text     bool
		xml      bool
		encoding string
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the matches of a CSS selector in a page or stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if selector == "" {
				return usagef("missing --selector")
			}
			f, err := fetch.New(fetch.Options{
				UserAgent: a.cfg.HTTP.UserAgent,
				Timeout:   a.cfg.HTTP.Timeout,
			})
			if err != nil {
				return usagef("http client: %w", err)
			}

			ctx := fetch.WithTask(cmd.Context(), "inspect")
			var (
				raw         []byte
				contentType string
			)
			if url != "" {
				p, err := f.Get(ctx, url)
				if err != nil {
					return err
				}
				raw, contentType = p.Body, p.ContentType
			} else if raw, err = f.Load(ctx, fetch.Input{Stdin: cmd.InOrStdin()}); err != nil {
				return err
			}

			mode := parse.HTML
			if xml {
				mode = parse.XML
			}
			tree, err := parse.Parse(raw, mode, parse.WithContentType(contentType), parse.WithEncoding(encoding))
			if err != nil {
				return err
			}
			return tree.DebugPrint(cmd.OutOrStdout(), selector, text)
		},
	}
	cmd.Flags().StringVar(&selector, "selector", "", "CSS selector to print matches for (required)")
	cmd.Flags().StringVar(&url, "url", "", "fetch the document from URL instead of stdin")
	cmd.Flags().BoolVar(&text, "text", false, "print trimmed text instead of outer HTML")
	cmd.Flags().BoolVar(&xml, "xml", false, "parse the document as XML")
	cmd.Flags().StringVar(&encoding, "encoding", "", "force the document encoding (e.g. windows-1252)")
	return cmd
}
