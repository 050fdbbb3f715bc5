package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	qumap "github.com/arbitrary-number/qumap-go"
)

// PutCommand stores a value.
func PutCommand() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "Store a value under a key",
		ArgsUsage: "<key> <value>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Usage:   "Value type: string, binary, numeric, ast, proof, custom",
				Value:   "string",
			},
			&cli.BoolFlag{
				Name:  "base64",
				Usage: "Decode the value argument as base64",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("put requires <key> and <value>")
			}

			vt, err := parseValueType(c.String("type"))
			if err != nil {
				return err
			}

			data := []byte(c.Args().Get(1))
			if c.Bool("base64") {
				data, err = base64.StdEncoding.DecodeString(c.Args().Get(1))
				if err != nil {
					return fmt.Errorf("decode value: %w", err)
				}
			}

			m, _, err := openMap(c)
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Put(c.Context, c.Args().Get(0), data, vt); err != nil {
				return err
			}

			fmt.Println("ok")
			return nil
		},
	}
}

// GetCommand retrieves a value.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Retrieve the value stored under a key",
		ArgsUsage: "<key>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "base64",
				Usage: "Print non-string values as base64 instead of raw bytes",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("get requires <key>")
			}

			m, _, err := openMap(c)
			if err != nil {
				return err
			}
			defer m.Close()

			value, err := m.Get(c.Context, c.Args().Get(0))
			if err != nil {
				return err
			}

			switch {
			case value.Type == qumap.ValueTypeString:
				fmt.Println(string(value.Data))
			case c.Bool("base64"):
				fmt.Println(base64.StdEncoding.EncodeToString(value.Data))
			default:
				os.Stdout.Write(value.Data)
			}
			return nil
		},
	}
}

// RemoveCommand deletes a key.
func RemoveCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Aliases:   []string{"rm"},
		Usage:     "Delete the entry stored under a key",
		ArgsUsage: "<key>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("remove requires <key>")
			}

			m, _, err := openMap(c)
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Remove(c.Context, c.Args().Get(0)); err != nil {
				return err
			}

			fmt.Println("ok")
			return nil
		},
	}
}

// ContainsCommand probes for a key.
func ContainsCommand() *cli.Command {
	return &cli.Command{
		Name:      "contains",
		Usage:     "Check whether a key exists",
		ArgsUsage: "<key>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("contains requires <key>")
			}

			m, _, err := openMap(c)
			if err != nil {
				return err
			}
			defer m.Close()

			found, err := m.Contains(c.Context, c.Args().Get(0))
			if err != nil {
				return err
			}

			fmt.Println(found)
			if !found {
				os.Exit(1)
			}
			return nil
		},
	}
}

// ClearCommand removes all entries.
func ClearCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Remove all entries from the store",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"f"},
				Usage:   "Skip the confirmation prompt",
			},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("force") {
				fmt.Print("clear all entries? [y/N] ")
				var answer string
				fmt.Scanln(&answer)
				if answer != "y" && answer != "Y" {
					fmt.Println("aborted")
					return nil
				}
			}

			m, _, err := openMap(c)
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Clear(c.Context); err != nil {
				return err
			}

			fmt.Println("ok")
			return nil
		},
	}
}

// StatsCommand prints a statistics snapshot.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Print a statistics snapshot as JSON",
		Action: func(c *cli.Context) error {
			m, _, err := openMap(c)
			if err != nil {
				return err
			}
			defer m.Close()

			stats, err := m.Stats(c.Context)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

// CheckpointCommand forces a checkpoint.
func CheckpointCommand() *cli.Command {
	return &cli.Command{
		Name:  "checkpoint",
		Usage: "Materialize dirty entries and compact the WAL",
		Action: func(c *cli.Context) error {
			m, _, err := openMap(c)
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Checkpoint(c.Context); err != nil {
				return err
			}

			fmt.Println("ok")
			return nil
		},
	}
}
