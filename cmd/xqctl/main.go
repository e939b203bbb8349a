// Command xqctl inspects a running relay through its admin API and can play
// a scripted match over the websocket endpoint.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/park285/xiangqi-relay/internal/admin"
	"github.com/park285/xiangqi-relay/internal/protocol"
)

func main() {
	if err := newApp(os.Stdout).Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "xqctl:", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.Command {
	adminFlag := &cli.StringFlag{
		Name:    "admin",
		Value:   "http://127.0.0.1:8081",
		Usage:   "admin API base URL",
		Sources: cli.EnvVars("XQ_ADMIN_URL"),
	}
	return &cli.Command{
		Name:   "xqctl",
		Usage:  "xiangqi relay control",
		Writer: out,
		Flags:  []cli.Flag{adminFlag},
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "print server counters",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					st, err := admin.NewClient(cmd.String("admin")).Stats(ctx)
					if err != nil {
						return err
					}
					return printJSON(out, st)
				},
			},
			{
				Name:      "rooms",
				Usage:     "list open rooms, optionally filtered by creator name",
				ArgsUsage: "[query]",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					c := admin.NewClient(cmd.String("admin"))
					var (
						rooms []protocol.RoomView
						err   error
					)
					if q := cmd.Args().First(); q != "" {
						rooms, err = c.SearchRooms(ctx, q)
					} else {
						rooms, err = c.Rooms(ctx)
					}
					if err != nil {
						return err
					}
					return printRooms(out, rooms)
				},
			},
			{
				Name:  "results",
				Usage: "show recently finished matches",
				Flags: []cli.Flag{&cli.IntFlag{Name: "limit", Value: 20}},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					res, err := admin.NewClient(cmd.String("admin")).Results(ctx, cmd.Int("limit"))
					if err != nil {
						return err
					}
					return printJSON(out, res)
				},
			},
			{
				Name:      "play",
				Usage:     "connect, create or join a room and play the given moves",
				ArgsUsage: "x,y:x,y ...",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "server", Value: "ws://127.0.0.1:8080/ws", Sources: cli.EnvVars("XQ_SERVER_URL")},
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "room", Usage: "join this room instead of creating one"},
					&cli.DurationFlag{Name: "wait", Value: 2 * time.Minute, Usage: "give up waiting for a reply after this long"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					moves, err := parseMoves(cmd.Args().Slice())
					if err != nil {
						return err
					}
					return play(ctx, out, playOptions{
						url:   cmd.String("server"),
						name:  cmd.String("name"),
						room:  cmd.String("room"),
						wait:  cmd.Duration("wait"),
						moves: moves,
					})
				},
			},
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRooms(w io.Writer, rooms []protocol.RoomView) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROOM\tCREATOR\tPLAYERS\tSTATUS")
	for _, r := range rooms {
		fmt.Fprintf(tw, "%s\t%s\t%d/2\t%s\n", r.ID, r.CreatorName, r.PlayerCount, r.Status)
	}
	return tw.Flush()
}

type scriptedMove struct{ from, to protocol.Position }

// parseMoves reads moves written as "x,y:x,y".
func parseMoves(args []string) ([]scriptedMove, error) {
	out := make([]scriptedMove, 0, len(args))
	for _, a := range args {
		from, to, ok := strings.Cut(a, ":")
		if !ok {
			return nil, fmt.Errorf("move %q: want x,y:x,y", a)
		}
		f, err := parsePos(from)
		if err != nil {
			return nil, fmt.Errorf("move %q: %w", a, err)
		}
		t, err := parsePos(to)
		if err != nil {
			return nil, fmt.Errorf("move %q: %w", a, err)
		}
		out = append(out, scriptedMove{from: f, to: t})
	}
	return out, nil
}

func parsePos(s string) (protocol.Position, error) {
	xs, ys, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return protocol.Position{}, fmt.Errorf("bad square %q", s)
	}
	x, err := strconv.Atoi(xs)
	if err != nil {
		return protocol.Position{}, fmt.Errorf("bad file %q", xs)
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return protocol.Position{}, fmt.Errorf("bad rank %q", ys)
	}
	return protocol.Position{X: x, Y: y}, nil
}
