// Command guidelinectl manages the brand guideline index from the shell.
package main

import (
	"flag"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var (
	dbType            string
	dbDSN             string
	embeddingProvider string
)

var rootCmd = &cobra.Command{
	Use:   "guidelinectl",
	Short: "Manage brand guideline documents",
	Long: `Ingest, search, list and delete brand guideline documents in the
database the campaign server reads. The validator can also be run against a
draft without starting the server.`,
	SilenceUsage: true,
}

func init() {
	defaults := loadDefaults()
	rootCmd.PersistentFlags().StringVar(&dbType, "db-type", defaults.Database.Type, "database type (sqlite, mysql)")
	rootCmd.PersistentFlags().StringVar(&dbDSN, "dsn", defaults.Database.DSN, "database DSN")
	rootCmd.PersistentFlags().StringVar(&embeddingProvider, "embedding", defaults.Embedding.Provider, "embedding provider (hash, openai, genai)")

	ingestCmd.Flags().StringVar(&ingestID, "id", "", "document id, defaults to the file name")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "document title")
	searchCmd.Flags().IntVarP(&searchK, "top", "k", 5, "number of chunks to return")
	validateCmd.Flags().StringVar(&validateBrand, "brand", "", "brand name the draft is written for")
	validateCmd.MarkFlagRequired("brand")

	rootCmd.AddCommand(ingestCmd, searchCmd, listCmd, deleteCmd, validateCmd, initConfigCmd)
}

func main() {
	klog.InitFlags(nil)
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	defer klog.Flush()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
