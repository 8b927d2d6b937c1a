package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/manifoldco/promptui"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"github.com/vigyanshaala/kalpana/pkg/catalog"
	"github.com/vigyanshaala/kalpana/pkg/config"
	"github.com/vigyanshaala/kalpana/pkg/git"
	"github.com/vigyanshaala/kalpana/pkg/pipeline"
	"github.com/vigyanshaala/kalpana/pkg/postgres"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func RecoverFromPanic() {
	if err := recover(); err != nil {
		log.Println("=======================================")
		log.Println("kalpana encountered an unexpected error, no table was left half-written but please report the issue.")
		log.Println(err)
		log.Println("=======================================")
		b := bufio.NewScanner(bytes.NewBuffer(debug.Stack()))
		for b.Scan() {
			log.Println(b.Text())
		}
		os.Exit(1)
	}
}

func printErrorJSON(err error) {
	errResponse := ErrorResponse{Error: "something went wrong"}
	if err != nil {
		errResponse.Error = err.Error()
	}

	js, marshalErr := json.Marshal(errResponse)
	if marshalErr != nil {
		fmt.Println(marshalErr)
		return
	}
	fmt.Println(string(js))
}

func printError(err error, output string, message string) {
	if output == "json" {
		printErrorJSON(err)
		return
	}
	errorPrinter.Printf("%s: %v\n", message, err)
}

func printJSON(v any) error {
	js, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal the output")
	}
	fmt.Println(string(js))
	return nil
}

// NewRunID prefixes a random id with the start time so audit folders sort chronologically.
func NewRunID() string {
	if id := os.Getenv("KALPANA_RUN_ID"); id != "" {
		return id
	}
	return time.Now().Format("2006_01_02_15_04_05") + "_" + uuid.NewString()[:8]
}

func loadPipeline(c *cli.Context) (*config.Pipeline, error) {
	p, err := config.LoadPipelineOrDefault(fs, c.String("config"))
	if err != nil {
		return nil, err
	}
	return p, nil
}

func connect(ctx context.Context, envFile string, statementTimeout time.Duration) (*postgres.Client, error) {
	creds, err := config.LoadCredentials(fs, envFile, os.Environ())
	if err != nil {
		return nil, err
	}

	client, err := postgres.NewClient(ctx, creds.PostgresConfig(statementTimeout))
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// lookupTable resolves a catalog table with the overrides of the pipeline definition applied.
func lookupTable(name string, p *config.Pipeline) (catalog.Descriptor, error) {
	selected, err := catalog.Default().Select([]string{name}, pipeline.Overrides(p))
	if err != nil {
		return catalog.Descriptor{}, err
	}
	return selected[0], nil
}

// confirm asks before a destructive step. Declining is not an error.
func confirm(label string, stdin io.ReadCloser) bool {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
		Stdin:     stdin,
	}

	if _, err := prompt.Run(); err != nil {
		fmt.Println("The operation is cancelled.")
		return false
	}
	return true
}

// ignoreOutputs keeps audit files, which hold student records, and run state out of version control.
func ignoreOutputs(logger *zap.SugaredLogger, dirs ...string) {
	root, err := git.FindRoot(fs, ".")
	if err != nil {
		logger.Debugw("not inside a git repository, skipping .gitignore", "error", err)
		return
	}

	patterns := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if rel, err := filepath.Rel(root, abs); err == nil && !strings.HasPrefix(rel, "..") {
			patterns = append(patterns, filepath.ToSlash(rel))
		}
	}

	added, err := git.EnsureIgnored(fs, root, patterns...)
	if err != nil {
		warningPrinter.Printf("Failed to add %v to .gitignore: %v\n", patterns, err)
		return
	}
	if len(added) > 0 {
		logger.Infow("added outputs to .gitignore", "patterns", added)
	}
}
