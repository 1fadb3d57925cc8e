package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/brandpilot/backend/config"
	"github.com/brandpilot/backend/internal/domain"
	"github.com/brandpilot/backend/internal/pkg/database"
	"github.com/brandpilot/backend/internal/pkg/embedder"
	"github.com/brandpilot/backend/internal/repository"
	"github.com/brandpilot/backend/internal/service/guideline"
	"github.com/brandpilot/backend/internal/service/validator"
	"github.com/brandpilot/backend/internal/utils"
	"github.com/spf13/cobra"
)

var (
	ingestID      string
	ingestTitle   string
	searchK       int
	validateBrand string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Ingest a guideline document, replacing one with the same id",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Show the guideline chunks most similar to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingested guideline documents",
	RunE:  runList,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a guideline document and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var validateCmd = &cobra.Command{
	Use:   "validate <draft-file>",
	Short: "Check draft copy against the ingested guidelines",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config [path]",
	Short: "Write the effective configuration to a YAML file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInitConfig,
}

func loadDefaults() *config.Config {
	if _, err := os.Stat(configPath()); err == nil {
		return config.GetConfig()
	}
	return config.Default()
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}

// openIndex connects to the database named by the flags. The returned func
// closes the connection.
func openIndex(ctx context.Context) (*guideline.Index, func(), error) {
	cfg := loadDefaults()
	if dbType != "mysql" {
		if err := os.MkdirAll(filepath.Dir(dbDSN), 0755); err != nil {
			return nil, nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	db, err := database.InitDB(dbType, dbDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() { sqlDB.Close() }

	embCfg := cfg.Embedding
	embCfg.Provider = embeddingProvider
	emb, err := embedder.New(ctx, embCfg)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	chunker := guideline.NewChunker(cfg.Guideline.ChunkSize, cfg.Guideline.MinChunkSize)
	return guideline.NewIndex(repository.NewGuidelineRepository(db), emb, chunker), closeDB, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, 2*time.Minute)
}

func runIngest(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	id := ingestID
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()
	index, closeDB, err := openIndex(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	chunks, err := index.Ingest(ctx, domain.GuidelineDocument{
		ID:     id,
		Title:  ingestTitle,
		Source: args[0],
		Text:   string(data),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ingested %s: %d chunks\n", id, len(chunks))
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	index, closeDB, err := openIndex(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	results, err := index.Search(ctx, strings.Join(args, " "), searchK)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "no guideline chunks indexed")
		return nil
	}
	for _, r := range results {
		fmt.Fprintf(out, "#%d %.3f [%s/%d] %s\n", r.Chunk.ID, r.Score, r.Chunk.DocumentID, r.Chunk.Seq, oneLine(r.Chunk.Text))
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	index, closeDB, err := openIndex(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	docs, err := index.ListDocuments()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tCHUNKS\tUPDATED")
	for _, d := range docs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", d.ID, d.Title, d.ChunkCount, d.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	index, closeDB, err := openIndex(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := index.DeleteDocument(args[0]); err != nil {
		return fmt.Errorf("delete %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()
	index, closeDB, err := openIndex(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	cfg := loadDefaults()
	v := validator.New(index, validator.Config{
		TopK:               cfg.Validation.TopK,
		Threshold:          cfg.Validation.Threshold,
		SemanticWeight:     cfg.Validation.SemanticWeight,
		RuleWeight:         cfg.Validation.RuleWeight,
		MinChunkSimilarity: cfg.Validation.MinChunkSimilarity,
	})
	result, err := v.Validate(ctx, domain.Draft{Text: string(data)}, domain.Brief{BrandName: validateBrand})
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), result)
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	path := configPath()
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	cfg := loadDefaults()
	cfg.Database.Type = dbType
	cfg.Database.DSN = dbDSN
	cfg.Embedding.Provider = embeddingProvider
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 80 {
		return utils.Truncate(s, 77) + "..."
	}
	return s
}
