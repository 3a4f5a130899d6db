// Command ddbvfs-loadtest drives a SQLite database mounted on package
// ddbvfs against a real or local DynamoDB endpoint, to exercise and
// time the VFS under a write phase and a read phase outside of a unit
// test.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/LorenzoBoccaccia/sqlite-s3vfs/vfs/ddbvfs"
)

var logger zerolog.Logger

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ddbvfs-loadtest",
	Short: "Load-test SQLite over the ddbvfs DynamoDB VFS",
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("table", "ddbvfs", "DynamoDB table name")
	rootCmd.PersistentFlags().String("endpoint", "", "Override DynamoDB endpoint (e.g. http://localhost:8000 for local testing)")
	rootCmd.PersistentFlags().Int("block-size", ddbvfs.DefaultBlockSize, "VFS block size in bytes")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	asJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)

	if asJSON {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
}

var runCmd = &cobra.Command{
	Use:   "run PATH",
	Short: "Create a table, insert rows, and read them back through ddbvfs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		tableName, _ := cmd.Flags().GetString("table")
		endpoint, _ := cmd.Flags().GetString("endpoint")
		blockSize, _ := cmd.Flags().GetInt("block-size")
		rows, _ := cmd.Flags().GetInt("rows")
		payloadSize, _ := cmd.Flags().GetInt("payload-size")

		ctx := context.Background()
		client, err := newDynamoClient(ctx, endpoint)
		if err != nil {
			return fmt.Errorf("connect to dynamodb: %w", err)
		}

		v := ddbvfs.New(client, tableName, ddbvfs.WithBlockSize(blockSize))
		v.Register()
		logger.Info().Str("vfs", v.Name).Str("table", tableName).Msg("registered VFS")

		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?vfs=%s", path, v.Name))
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS loadtest (id INTEGER PRIMARY KEY, payload BLOB)`); err != nil {
			return fmt.Errorf("create table: %w", err)
		}

		payload := make([]byte, payloadSize)
		rand.New(rand.NewSource(1)).Read(payload)

		writeStart := time.Now()
		for i := 0; i < rows; i++ {
			if _, err := db.ExecContext(ctx, `INSERT INTO loadtest (payload) VALUES (?)`, payload); err != nil {
				return fmt.Errorf("insert row %d: %w", i, err)
			}
		}
		writeElapsed := time.Since(writeStart)
		logger.Info().Int("rows", rows).Dur("elapsed", writeElapsed).Msg("write phase complete")

		readStart := time.Now()
		var count int
		if err := db.QueryRowContext(ctx, `SELECT count(*) FROM loadtest`).Scan(&count); err != nil {
			return fmt.Errorf("count rows: %w", err)
		}
		readElapsed := time.Since(readStart)
		logger.Info().Int("count", count).Dur("elapsed", readElapsed).Msg("read phase complete")

		if count != rows {
			return fmt.Errorf("expected %d rows, found %d", rows, count)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().Int("rows", 100, "Number of rows to insert")
	runCmd.Flags().Int("payload-size", 256, "Bytes of random payload per row")
}

func newDynamoClient(ctx context.Context, endpoint string) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	opts := []func(*dynamodb.Options){}
	if endpoint != "" {
		opts = append(opts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	return dynamodb.NewFromConfig(cfg, opts...), nil
}
