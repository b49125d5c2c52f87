// Command shmctl inspects a running shmpool server.
//
//	shmctl [-addr host:port] check
//	shmctl [-addr host:port] stats
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"shmpool/api/grpcserver"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:50051", "Address of the management gRPC service.")
	timeout := flag.Duration("timeout", 30*time.Second, "Request timeout.")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: shmctl [-addr host:port] check|stats")
		os.Exit(2)
	}

	c, err := grpcserver.Dial(*addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch flag.Arg(0) {
	case "check":
		n, err := c.Check(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("total_fragments: %d\n", n)

	case "stats":
		st, err := c.Stats(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		keys := make([]string, 0, len(st))
		for k := range st {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if k == "fragments" {
				fmt.Printf("%-15s %d\n", k+":", st[k])
				continue
			}
			fmt.Printf("%-15s %s (%d)\n", k+":", humanize.IBytes(st[k]), st[k])
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", flag.Arg(0))
		os.Exit(2)
	}
}
