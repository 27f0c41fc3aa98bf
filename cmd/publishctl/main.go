package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/opendata-etl/publisher/common/bootstrap"
)

// publishctl drives the portal lifecycle of a dataset by hand:
//
//	publishctl -dataset 100123 publish
//	publishctl -dataset 100123 -unpublish-first publish
//	publishctl -dataset 100123 unpublish
//	publishctl -dataset 100123 status
//	publishctl -dataset 100123 -restricted=false -then-publish set-access
func main() {
	var (
		dataset        = flag.String("dataset", "", "public dataset id (required)")
		unpublishFirst = flag.Bool("unpublish-first", false, "force the unpublish-then-publish path")
		restricted     = flag.Bool("restricted", false, "desired access policy for set-access")
		thenPublish    = flag.Bool("then-publish", false, "publish after changing the access policy")
	)
	flag.Parse()

	command := flag.Arg(0)
	if *dataset == "" || command == "" {
		fmt.Fprintln(os.Stderr, "usage: publishctl -dataset <id> [flags] publish|unpublish|status|set-access")
		os.Exit(2)
	}

	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "publishctl", bootstrap.WithoutMirror())
	if err != nil {
		fmt.Fprintf(os.Stderr, "publishctl: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	log := components.Logger.WithDataset(*dataset)

	if err := run(ctx, components, command, *dataset, *unpublishFirst, *restricted, *thenPublish); err != nil {
		log.Error("command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, components *bootstrap.Components, command, dataset string, unpublishFirst, restricted, thenPublish bool) error {
	driver := components.Portal

	switch command {
	case "publish":
		return driver.Publish(ctx, dataset, unpublishFirst)

	case "unpublish":
		return driver.Unpublish(ctx, dataset)

	case "status":
		uid, err := driver.Resolve(ctx, dataset)
		if err != nil {
			return err
		}
		status, err := driver.DatasetStatus(ctx, uid)
		if err != nil {
			return err
		}
		policy, err := driver.AccessPolicy(ctx, dataset)
		if err != nil {
			return err
		}
		fmt.Printf("dataset %s: uid=%s status=%s restricted=%t\n", dataset, uid, status, policy)
		return nil

	case "set-access":
		changed, err := driver.SetAccessPolicy(ctx, dataset, restricted, thenPublish)
		if err != nil {
			return err
		}
		if changed {
			fmt.Printf("dataset %s: access policy set to restricted=%t\n", dataset, restricted)
		} else {
			fmt.Printf("dataset %s: no change\n", dataset)
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q (want publish, unpublish, status or set-access)", strings.TrimSpace(command))
	}
}
