package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"casematch/internal/app"
	"casematch/internal/storage"
)

var importCmd = &cobra.Command{
	Use:   "import [file.jsonl|dir]",
	Short: "Stage case narratives from JSON Lines files",
	Long: `Reads one case per line with the fields case_id, catalog_item_id,
catalog_path and narrative_text, and stages them as pending. Cases that are
already staged are skipped. A directory imports every .jsonl file below it;
use "-" to read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(runImport),
}

func init() {
	rootCmd.AddCommand(importCmd)
}

// narrativeLine is one JSON Lines record of the staging feed.
type narrativeLine struct {
	CaseID        string `json:"case_id"`
	CatalogItemID string `json:"catalog_item_id"`
	CatalogPath   string `json:"catalog_path"`
	NarrativeText string `json:"narrative_text"`
}

// ReadNarratives parses a JSON Lines staging feed. Blank lines are skipped.
func ReadNarratives(r io.Reader) ([]*storage.StagingNarrative, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out []*storage.StagingNarrative
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec narrativeLine
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if rec.CaseID == "" || rec.CatalogItemID == "" {
			return nil, fmt.Errorf("line %d: case_id and catalog_item_id are required", lineNo)
		}
		out = append(out, &storage.StagingNarrative{
			CaseID:        rec.CaseID,
			CatalogItemID: rec.CatalogItemID,
			CatalogPath:   rec.CatalogPath,
			NarrativeText: rec.NarrativeText,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return out, nil
}

// FeedFiles returns the .jsonl files below root in lexical order, skipping
// hidden directories.
func FeedFiles(ctx context.Context, root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to access path %s: %w", path, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) == ".jsonl" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func readFeedFile(path string) ([]*storage.StagingNarrative, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	narratives, err := ReadNarratives(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return narratives, nil
}

func runImport(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
	narratives, err := loadFeed(ctx, cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}

	inserted, err := a.Narratives.Import(ctx, narratives)
	if err != nil {
		return err
	}
	cmd.Printf("Staged %d of %d cases (%d already present)\n", inserted, len(narratives), len(narratives)-inserted)
	return nil
}

// loadFeed reads src, which is "-" for stdin, a .jsonl file or a directory.
func loadFeed(ctx context.Context, stdin io.Reader, src string) ([]*storage.StagingNarrative, error) {
	if src == "-" {
		return ReadNarratives(stdin)
	}

	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	if !info.IsDir() {
		return readFeedFile(src)
	}

	files, err := FeedFiles(ctx, src)
	if err != nil {
		return nil, err
	}
	var narratives []*storage.StagingNarrative
	for _, path := range files {
		batch, err := readFeedFile(path)
		if err != nil {
			return nil, err
		}
		narratives = append(narratives, batch...)
	}
	return narratives, nil
}
