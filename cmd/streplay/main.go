// streplay re-executes a recorded land op log against the current land
// definitions and reports per-op state hash agreement.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/statetree/server/internal/replay"
	"github.com/statetree/server/internal/script"
	"github.com/statetree/server/internal/statesync"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	manifest := flag.String("lands", "lands/lands.yaml", "lands manifest path")
	showState := flag.Bool("state", false, "print the final projected state")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()
	if flag.NArg() != 1 {
		return fmt.Errorf("usage: streplay [flags] <record.jsonl>")
	}
	recordPath := flag.Arg(0)

	log := zap.NewNop()
	if *verbose {
		var err error
		log, err = zap.NewDevelopment()
		if err != nil {
			return err
		}
	}

	rec, err := replay.ReadRecord(recordPath)
	if err != nil {
		return err
	}

	defs, err := script.Load(*manifest, log)
	if err != nil {
		return fmt.Errorf("load lands: %w", err)
	}
	var runner *replay.Runner
	for _, def := range defs {
		if def.LandType == rec.Header.LandType {
			runner = replay.NewRunner(def, recordPath, log)
			break
		}
	}
	if runner == nil {
		return fmt.Errorf("no land definition for recorded type %q", rec.Header.LandType)
	}
	runner.RequiredFormatVersion = replay.FormatVersion

	if err := runner.Run(context.Background()); err != nil {
		return err
	}

	st := runner.Status()
	fmt.Printf("land:       %s\n", rec.Header.LandID)
	fmt.Printf("definition: %s\n", rec.Header.LandDefinitionID)
	fmt.Printf("ops:        %d\n", st.TotalTicks)
	fmt.Printf("correct:    %d\n", st.CorrectTicks)
	fmt.Printf("mismatched: %d\n", st.MismatchedTicks)
	if st.MismatchedTicks > 0 {
		fmt.Printf("last computed hash: %s\n", st.LastComputedHash)
		fmt.Printf("last recorded hash: %s\n", st.LastRecordedHash)
	}
	if *showState {
		fmt.Printf("state: %s\n", statesync.CanonicalJSON(runner.ProjectedState()))
	}
	if st.MismatchedTicks > 0 {
		os.Exit(1)
	}
	return nil
}
