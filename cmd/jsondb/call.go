package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nainya/jsondb/internal/server"
	"github.com/nainya/jsondb/pkg/query"
)

// parseItems turns "path[=json]" arguments into query items. For writes the
// last path segment becomes the key.
func parseItems(op query.Operation, lock string, args []string) ([]*query.Item, error) {
	items := make([]*query.Item, 0, len(args))
	for _, arg := range args {
		path, raw, hasValue := strings.Cut(arg, "=")
		item := &query.Item{Path: path, Lock: lock}

		if op == query.OpWrite {
			if !hasValue {
				return nil, fmt.Errorf("write item %q needs path=value", arg)
			}
			var value any
			if err := json.Unmarshal([]byte(raw), &value); err != nil {
				// Bare words are strings
				value = raw
			}
			item.Value = value
			if i := strings.LastIndexAny(path, "/."); i >= 0 {
				item.Path, item.Key = path[:i], path[i+1:]
			} else {
				item.Path, item.Key = "", path
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func newCallCommand() *cobra.Command {
	var (
		addr   string
		client string
		db     string
		lock   string
	)

	cmd := &cobra.Command{
		Use:   "call <operation> <path[=value]>...",
		Short: "Send one request batch to a running server",
		Example: `
  jsondb call write users.ann.age=31
  jsondb call read users.*.age
  jsondb call --client me lock users.ann
  jsondb call --client me subscribe users`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			var op query.Operation
			if err := op.UnmarshalText([]byte(args[0])); err != nil {
				return err
			}
			items, err := parseItems(op, lock, args[1:])
			if err != nil {
				return err
			}

			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("connect %s: %w", addr, err)
			}
			defer conn.Close()
			c := server.NewClient(conn)
			out := cmd.OutOrStdout()

			if op == query.OpSubscribe {
				paths := make([]string, len(items))
				for i, item := range items {
					paths[i] = item.Path
				}
				sub, err := c.Subscribe(cmd.Context(), client, db, paths...)
				if err != nil {
					return err
				}
				for {
					n, err := sub.Recv()
					if err == io.EOF || cmd.Context().Err() != nil {
						return nil
					}
					if err != nil {
						return err
					}
					if err := printJSON(out, n); err != nil {
						return err
					}
				}
			}

			resp, err := c.Dispatch(cmd.Context(), &query.Request{
				ClientID:  client,
				DB:        db,
				Operation: op,
				Items:     items,
			})
			if err != nil {
				return err
			}
			if err := printJSON(out, resp); err != nil {
				return err
			}
			return resp.Status.Err()
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", "localhost:50051", "server address")
	flags.StringVar(&client, "client", "", "client id (required for lock, unlock, and unsubscribe)")
	flags.StringVar(&db, "db", "", "database name (empty selects the default)")
	flags.StringVar(&lock, "lock", "", "lock kind for lock items: r or w")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
