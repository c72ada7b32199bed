package main

import (
	"context"
	"flag"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"tryon/internal/bootstrap"
	"tryon/internal/domain"
	"tryon/internal/imageprep"
	"tryon/internal/infra"
	"tryon/internal/storage"
)

func main() {
	var (
		personFlag  string
		garmentFlag string
		outFlag     string
	)
	flag.StringVar(&personFlag, "person", "", "Path to the person image")
	flag.StringVar(&garmentFlag, "garment", "", "Path to the garment image")
	flag.StringVar(&outFlag, "out", "", "Output file (defaults to OUTPUT_DIR/<provider>-<job id>)")
	flag.Parse()

	if strings.TrimSpace(personFlag) == "" || strings.TrimSpace(garmentFlag) == "" {
		fmt.Fprintln(os.Stderr, "-person and -garment are required")
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "tryon").Logger()

	person, err := readUpload(personFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "person image: %v\n", err)
		os.Exit(1)
	}
	garment, err := readUpload(garmentFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "garment image: %v\n", err)
		os.Exit(1)
	}

	svc, err := bootstrap.Build(cfg, &logger, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outcome := svc.Coordinator.ProcessTryOn(ctx, person, garment)
	if !outcome.Success {
		fmt.Fprintf(os.Stderr, "try-on failed (%s): %s\n", outcome.ErrorKind, outcome.ErrorMessage)
		os.Exit(1)
	}

	dir, name := cfg.OutputDirectory, fmt.Sprintf("%s-%s", outcome.Deliverable.Provider, outcome.Deliverable.JobID)
	if out := strings.TrimSpace(outFlag); out != "" {
		dir, name = filepath.Dir(out), filepath.Base(out)
	}
	store, err := storage.NewFileStore(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "output: %v\n", err)
		os.Exit(1)
	}
	key, err := store.SaveDeliverable(ctx, name, outcome.Deliverable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "output: %v\n", err)
		os.Exit(1)
	}
	path, _ := store.Path(key)

	fmt.Printf("provider: %s\njob id:   %s\nsaved:    %s\n", outcome.Deliverable.Provider, outcome.Deliverable.JobID, path)
}

func readUpload(path string) (domain.Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Upload{}, err
	}
	mimeType, err := imageprep.Sniff(data)
	if err != nil {
		mimeType = mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	}
	return domain.Upload{Data: data, MIMEType: mimeType, Filename: filepath.Base(path)}, nil
}
