package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/docrag/engine/domain"
	"github.com/WessleyAI/docrag/engine/rag"
)

func newQueryCmd(c *cli) *cobra.Command {
	var (
		sourceType string
		n          int
		showSrc    bool
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "query <collection> <question>...",
		Short: "Answer a question from the nearest chunks of a collection",
		Long: `Embed the question with the configured model, fetch the nearest chunks and
print them as one answer. txt collections are joined verbatim; pdf
collections are cleaned of punctuation and turned into sentences.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := rag.Request{
				Collection: args[0],
				SourceType: domain.SourceType(sourceType),
				Question:   strings.Join(args[1:], " "),
				NResults:   n,
			}
			return c.withService(cmd.Context(), func(svc service) error {
				ans, err := svc.Query(cmd.Context(), req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(ans)
				}
				fmt.Fprintln(out, ans.Text)
				if showSrc {
					for _, s := range ans.Sources {
						fmt.Fprintf(out, "  [%s] score=%.3f", s.ChunkID, s.Score)
						if s.Page > 0 {
							fmt.Fprintf(out, " page=%d", s.Page)
						}
						fmt.Fprintln(out)
					}
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&sourceType, "type", "t", "", "answer style, txt or pdf (default: the collection's file type)")
	f.IntVarP(&n, "n", "n", 0, "number of chunks to retrieve (default: query.n_results)")
	f.BoolVarP(&showSrc, "sources", "s", false, "list the chunks the answer came from")
	f.BoolVar(&asJSON, "json", false, "print the full answer as JSON")
	return cmd
}
