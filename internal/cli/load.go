package cli

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/rs/xid"
	"github.com/segmentio/encoding/json"
	"github.com/spf13/cobra"

	"github.com/Alp4ka/deeppager"
)

const defaultLoadBatch = 500

type loadOptions struct {
	index   string
	idField string
	batch   int
}

func (a *app) loadCommand() *cobra.Command {
	var opts loadOptions

	cmd := &cobra.Command{
		Use:   "load FILE",
		Short: "Bulk index an NDJSON file (- for stdin)",
		Long: `load indexes one JSON document per line. The document id is read from the
--id-field field; documents without it get a generated id.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runLoad(cmd, args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.index, "index", "", "target index")
	flags.StringVar(&opts.idField, "id-field", "id", "document field holding the id")
	flags.IntVar(&opts.batch, "batch", defaultLoadBatch, "documents per bulk request")
	_ = cmd.MarkFlagRequired("index")

	return cmd
}

func (a *app) runLoad(cmd *cobra.Command, path string, opts loadOptions) error {
	if a.cfg.Engine.IsSQL() {
		return fmt.Errorf("load is not supported for engine '%s'", a.cfg.Engine)
	}

	in := cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	backend, closeBackend, err := openBackend(a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	bulk, ok := backend.(loader)
	if !ok {
		return fmt.Errorf("engine '%s' does not accept bulk writes", a.cfg.Engine)
	}

	total := 0
	flush := func(docs []deeppager.Hit) error {
		if err := bulk.BulkIndex(cmd.Context(), opts.index, docs); err != nil {
			return fmt.Errorf("after %d documents: %w", total, err)
		}
		total += len(docs)
		return nil
	}

	err = readDocuments(in, opts.idField, max(opts.batch, 1), flush)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents into %s\n", total, opts.index)

	return err
}

// readDocuments parses NDJSON from r and hands documents to flush in batches
// of size. Blank lines are skipped.
func readDocuments(r io.Reader, idField string, size int, flush func([]deeppager.Hit) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	batch := make([]deeppager.Hit, 0, size)
	for line := 1; scanner.Scan(); line++ {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}

		id := xid.New().String()
		if v, ok := doc[idField]; ok && v != nil {
			id = fmt.Sprint(v)
		}

		batch = append(batch, deeppager.Hit{ID: id, Source: bytes.Clone(raw)})
		if len(batch) == size {
			if err := flush(batch); err != nil {
				return err
			}
			batch = make([]deeppager.Hit, 0, size)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if len(batch) > 0 {
		return flush(batch)
	}

	return nil
}
