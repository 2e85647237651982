package main

import (
	"fmt"
	"os"

	"github.com/danmuck/drawctl/internal/config"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("configgen", pflag.ContinueOnError)
	kind := fs.String("kind", config.KindRelay, "config kind: relay|probe")
	output := fs.String("output", "", "output path for config template (defaults to per-kind cmd path)")
	validate := fs.Bool("validate", false, "validate an existing config file")
	input := fs.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := fs.Bool("force", false, "overwrite existing config file")
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if *validate {
		path := *input
		if path == "" {
			var err error
			if path, err = defaultPath(*kind); err != nil {
				return err
			}
		}
		if err := config.Validate(path, *kind); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Validated %s config at %s\n", *kind, path)
		return nil
	}

	target := *output
	if target == "" {
		var err error
		if target, err = defaultPath(*kind); err != nil {
			return err
		}
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Wrote %s config template to %s\n", *kind, target)
	return nil
}

func defaultPath(kind string) (string, error) {
	switch kind {
	case config.KindRelay:
		return "cmd/relayctl/config.toml", nil
	case config.KindProbe:
		return "cmd/probectl/config.toml", nil
	default:
		return "", fmt.Errorf("unknown kind: %s", kind)
	}
}
