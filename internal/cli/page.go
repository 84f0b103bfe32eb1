package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/spf13/cobra"

	"github.com/Alp4ka/deeppager"
	"github.com/Alp4ka/deeppager/gormbackend"
)

type pageOptions struct {
	indices   []string
	page      int
	size      int
	sort      []string
	fields    []string
	exclude   []string
	noSource  bool
	query     string
	keepAlive time.Duration
}

func (a *app) pageCommand() *cobra.Command {
	var opts pageOptions

	cmd := &cobra.Command{
		Use:   "page",
		Short: "Fetch one page of a query and print it as JSON",
		Example: `  deeppage page --index people --page 40 --size 25 --sort "age desc" --sort "name asc"
  deeppage page --engine postgres --dsn "$DSN" --index users --query "age > 18" --page 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runPage(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&opts.indices, "index", nil, "indices, aliases or table to search")
	flags.IntVar(&opts.page, "page", 1, "1-based page number")
	flags.IntVar(&opts.size, "size", deeppager.DefaultPageSize, "page size")
	flags.StringArrayVar(&opts.sort, "sort", nil, `ordering "field asc|desc", repeatable`)
	flags.StringSliceVar(&opts.fields, "fields", nil, "fields to return")
	flags.StringSliceVar(&opts.exclude, "exclude", nil, "fields to leave out")
	flags.BoolVar(&opts.noSource, "ids-only", false, "return documents without bodies")
	flags.StringVar(&opts.query, "query", "", "query DSL JSON, or a WHERE condition for SQL engines")
	flags.DurationVar(&opts.keepAlive, "keep-alive", 0, "scroll keep-alive between advances")
	_ = cmd.MarkFlagRequired("index")

	return cmd
}

func (a *app) runPage(cmd *cobra.Command, opts pageOptions) error {
	sort, err := deeppager.ParseSort(opts.sort, nil)
	if err != nil {
		return fmt.Errorf("--sort: %w", err)
	}

	query := &deeppager.Query{
		Filter: a.filter(opts.query),
		Sort:   sort,
		Source: deeppager.Projection{Disabled: opts.noSource, Includes: opts.fields, Excludes: opts.exclude},
	}

	backend, closeBackend, err := openBackend(a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	codec, err := a.cfg.Codec()
	if err != nil {
		return err
	}

	pager := deeppager.NewDeepPager(backend,
		deeppager.WithCodec(codec),
		deeppager.WithLogger(a.logger),
		deeppager.WithDefaultKeepAlive(a.cfg.Pager.KeepAlive),
	)

	page, err := deeppager.FetchPage[map[string]any](cmd.Context(), pager, deeppager.Request{
		Query:      query,
		PageNumber: opts.page,
		PageSize:   opts.size,
		Targets:    opts.indices,
		KeepAlive:  opts.keepAlive,
	})
	if err != nil {
		return err
	}

	a.logger.WithField("total", page.Total).
		WithField("documents", len(page.List)).
		Debug("page fetched")

	out, err := json.MarshalIndent(page, "", "  ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))

	return err
}

// filter interprets the --query value for the configured engine.
func (a *app) filter(query string) any {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	if a.cfg.Engine.IsSQL() {
		return gormbackend.Where{SQL: query}
	}

	return json.RawMessage(query)
}
