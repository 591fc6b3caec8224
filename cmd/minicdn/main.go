// Command minicdn loads a directory the way an application would and either
// prints what the store holds or writes it out as a snapshot.
//
//	minicdn --root web/dist                          # compressed, text listing
//	minicdn --root web/dist --mode filesystem        # lazy, nothing compressed
//	minicdn --root web/dist --format json            # JSON, payloads in base64
//	minicdn --root web/dist --out assets.cbor        # CBOR snapshot for //go:embed
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/alexjoedt/minicdn"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	var (
		root    string
		mode    string
		format  string
		out     string
		verbose bool
	)

	flagSet := pflag.NewFlagSet("minicdn", pflag.ContinueOnError)
	flagSet.StringVar(&root, "root", "", "directory to load (required)")
	flagSet.StringVar(&mode, "mode", "compressed", "how to load: filesystem, embedded or compressed")
	flagSet.StringVar(&format, "format", "text", "output format: text, json or cbor")
	flagSet.StringVar(&out, "out", "", "write a CBOR snapshot to this file instead of printing")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log pipeline decisions")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if extra := flagSet.Args(); len(extra) > 0 {
		return fmt.Errorf("unexpected argument: %s", extra[0])
	}
	if root == "" {
		return fmt.Errorf("--root is required")
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store, err := load(root, mode, minicdn.WithLogger(logger))
	if err != nil {
		return err
	}

	if out != "" {
		if err := minicdn.WriteSnapshotFile(out, store); err != nil {
			return err
		}
		logger.Info("snapshot written", "path", out, "mode", store.Mode())
		return nil
	}

	switch format {
	case "text":
		return dump(stdout, store)
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(store)
	case "cbor":
		data, err := store.MarshalCBOR()
		if err != nil {
			return err
		}
		_, err = stdout.Write(data)
		return err
	default:
		return fmt.Errorf("unknown --format %q", format)
	}
}

func load(root, mode string, opts ...minicdn.OptionFunc) (*minicdn.Store, error) {
	switch mode {
	case "filesystem":
		return minicdn.NewFilesystemFromPath(root, opts...), nil
	case "embedded":
		return minicdn.NewEmbeddedFromPath(root, opts...)
	case "compressed":
		return minicdn.NewCompressedFromPath(root, opts...)
	default:
		return nil, fmt.Errorf("unknown --mode %q", mode)
	}
}

// dump lists each file with its metadata and payload sizes, sorted by path
// for embedded stores and in scan order for filesystem stores.
func dump(w io.Writer, store *minicdn.Store) error {
	total := 0
	visit := func(p string, file *minicdn.File) {
		total += file.Size()
		fmt.Fprintf(w, "%s\tmime=%s\tetag=%s\tlast_modified=%s\tsize=%d",
			p, file.MIME, file.ETag, file.LastModified, len(file.Contents))
		for _, encoding := range []string{"br", "gzip", "zstd", "webp"} {
			if b, ok := file.Variant(encoding); ok {
				fmt.Fprintf(w, "\t%s=%d", encoding, len(b))
			}
		}
		fmt.Fprintln(w)
	}

	if embedded, ok := store.Embedded(); ok {
		embedded.Sorted(visit)
	} else if err := store.ForEach(visit); err != nil {
		return err
	}

	fmt.Fprintf(w, "total_size: %d\n", total)
	return nil
}
