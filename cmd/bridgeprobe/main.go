// Command bridgeprobe drives a RuntimeBridge from the command line, the way
// the teacher's own single-purpose cmd/* tools exercise one internal
// subsystem end to end without a full host process around it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/bbopen/tywrap-sub003/internal/codec"
	"github.com/bbopen/tywrap-sub003/internal/transport"
	"github.com/bbopen/tywrap-sub003/runtimebridge"
)

func main() {
	app := &cli.App{
		Name:  "bridgeprobe",
		Usage: "manually exercise a runtime bridge against a Python worker",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "python", Value: "python3", Usage: "interpreter to launch for the stdio transport"},
			&cli.StringFlag{Name: "script", Usage: "worker entry-point script path, passed as the interpreter's argv[1]"},
			&cli.StringFlag{Name: "venv", Usage: "virtualenv root; resolves the interpreter when --python is unset"},
			&cli.StringFlag{Name: "http-url", Usage: "if set, use HttpTransport against this base URL instead of stdio"},
			&cli.Int64Flag{Name: "timeout-ms", Value: 30_000, Usage: "per-call timeout in milliseconds; 0 disables it"},
			&cli.BoolFlag{Name: "strict-floats", Usage: "reject NaN/Infinity in both directions"},
			&cli.BoolFlag{Name: "verbose", Usage: "enable debug logging"},
		},
		Commands: []*cli.Command{
			callCommand,
			instantiateCommand,
			callMethodCommand,
			disposeCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "bridgeprobe:", err)
		os.Exit(1)
	}
}

func newBridge(c *cli.Context) (*runtimebridge.Bridge, error) {
	log := logrus.NewEntry(logrus.StandardLogger())
	if c.Bool("verbose") {
		logrus.SetLevel(logrus.DebugLevel)
	}

	var t transport.Transport
	if url := c.String("http-url"); url != "" {
		t = transport.NewHttpTransport(transport.HttpConfig{URL: url})
	} else {
		args := []string{}
		if script := c.String("script"); script != "" {
			args = append(args, script)
		}
		command := c.String("python")
		if c.String("venv") != "" && !c.IsSet("python") {
			command = ""
		}
		t = transport.NewStdioTransport(transport.StdioConfig{
			Command:  command,
			Args:     args,
			VenvPath: c.String("venv"),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	timeoutMs := c.Int64("timeout-ms")
	return runtimebridge.New(ctx, t, runtimebridge.Config{
		TimeoutMs:    &timeoutMs,
		CodecOptions: codec.Options{StrictFloats: c.Bool("strict-floats")},
		Log:          log,
	})
}

func printResult(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

// moduleFunction splits "pkg.mod:func" into its module and function parts.
func moduleFunction(spec string) (module, name string, err error) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected MODULE:NAME, got %q", spec)
	}
	return parts[0], parts[1], nil
}

var callCommand = &cli.Command{
	Name:      "call",
	Usage:     "call module.function(*args)",
	ArgsUsage: "MODULE:FUNCTION [JSON_ARGS]",
	Action: func(c *cli.Context) error {
		module, fn, err := moduleFunction(c.Args().Get(0))
		if err != nil {
			return err
		}
		args, err := parseArgs(c.Args().Get(1))
		if err != nil {
			return err
		}

		b, err := newBridge(c)
		if err != nil {
			return err
		}
		defer b.Dispose(context.Background())

		result, err := b.Call(context.Background(), module, fn, args, nil)
		if err != nil {
			return err
		}
		return printResult(result)
	},
}

var instantiateCommand = &cli.Command{
	Name:      "instantiate",
	Usage:     "instantiate module.ClassName(*args) and print the resulting handle",
	ArgsUsage: "MODULE:CLASSNAME [JSON_ARGS]",
	Action: func(c *cli.Context) error {
		module, class, err := moduleFunction(c.Args().Get(0))
		if err != nil {
			return err
		}
		args, err := parseArgs(c.Args().Get(1))
		if err != nil {
			return err
		}

		b, err := newBridge(c)
		if err != nil {
			return err
		}
		defer b.Dispose(context.Background())

		handle, err := b.Instantiate(context.Background(), module, class, args, nil)
		if err != nil {
			return err
		}
		fmt.Println(handle)
		return nil
	},
}

var callMethodCommand = &cli.Command{
	Name:      "call-method",
	Usage:     "call handle.method(*args)",
	ArgsUsage: "HANDLE METHOD [JSON_ARGS]",
	Action: func(c *cli.Context) error {
		handle := c.Args().Get(0)
		method := c.Args().Get(1)
		if handle == "" || method == "" {
			return fmt.Errorf("call-method requires HANDLE and METHOD arguments")
		}
		args, err := parseArgs(c.Args().Get(2))
		if err != nil {
			return err
		}

		b, err := newBridge(c)
		if err != nil {
			return err
		}
		defer b.Dispose(context.Background())

		result, err := b.CallMethod(context.Background(), handle, method, args, nil)
		if err != nil {
			return err
		}
		return printResult(result)
	},
}

var disposeCommand = &cli.Command{
	Name:      "dispose",
	Usage:     "dispose_instance(handle)",
	ArgsUsage: "HANDLE",
	Action: func(c *cli.Context) error {
		handle := c.Args().Get(0)
		if handle == "" {
			return fmt.Errorf("dispose requires a HANDLE argument")
		}

		b, err := newBridge(c)
		if err != nil {
			return err
		}
		defer b.Dispose(context.Background())

		return b.DisposeInstance(context.Background(), handle)
	},
}

func parseArgs(raw string) ([]interface{}, error) {
	if raw == "" {
		return nil, nil
	}
	var args []interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("JSON_ARGS must be a JSON array: %w", err)
	}
	return args, nil
}
