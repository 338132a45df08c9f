package main

import (
	"fmt"
	"os"
	"time"

	"typeproof/internal/simulate"
)

// cmdSimulate writes a synthetic interval sequence that the fingerprint
// and build commands accept.
func (c *cli) cmdSimulate(args []string) error {
	fs := c.flagSet("simulate")
	profileName := fs.String("profile", "normal", "typing profile")
	count := fs.Int("count", 200, "number of intervals")
	seed := fs.Int64("seed", 0, "random seed; 0 uses the current time")
	out := fs.String("out", "", "output file (default: stdout)")
	list := fs.Bool("list", false, "list available profiles")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *list {
		for _, name := range simulate.Names() {
			p, _ := simulate.Lookup(name)
			fmt.Fprintf(c.stdout, "  %-16s %s\n", name, p.Description)
		}
		return nil
	}
	if fs.NArg() != 0 || *count < 1 {
		return usageError{"typeproof simulate [-profile name] [-count n] [-seed n] [-out file]"}
	}

	profile, err := simulate.Lookup(*profileName)
	if err != nil {
		return err
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	intervals := simulate.NewGenerator(profile, *seed).Generate(*count)
	c.log.Debug("generated intervals", "profile", profile.Name, "count", len(intervals), "seed", *seed)

	if *out == "" {
		return writeIndented(c.stdout, intervals)
	}
	f, err := os.OpenFile(*out, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer f.Close()
	if err := writeIndented(f, intervals); err != nil {
		return err
	}
	fmt.Fprintf(c.stderr, "Wrote %d %s intervals to %s (seed %d)\n", len(intervals), profile.Name, *out, *seed)
	return nil
}
