package main

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Brownie44l1/leaf-api/internal/imaging"
	"github.com/Brownie44l1/leaf-api/internal/model"
	"github.com/Brownie44l1/leaf-api/internal/options"
)

// fileResult is one line of predict output.
type fileResult struct {
	File   string                  `json:"file"`
	Result *model.PredictionResult `json:"result,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

func newPredictCmd(opts *options.Options) *cobra.Command {
	topk := model.DefaultTopK

	cmd := &cobra.Command{
		Use:   "predict IMAGE...",
		Short: "Classify local image files and print JSON results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Model.Validate(); err != nil {
				return errors.Wrap(err, "invalid model options")
			}

			modelConfig, err := opts.Model.ServerConfig()
			if err != nil {
				return err
			}

			modelServer, err := model.NewServer(modelConfig)
			if err != nil {
				return errors.Wrap(err, "failed to initialize model server")
			}
			defer modelServer.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			failed := 0
			for _, path := range args {
				out := classifyFile(modelServer, path, topk)
				if out.Error != "" {
					failed++
				}
				if err := enc.Encode(out); err != nil {
					return err
				}
			}

			if failed > 0 {
				return errors.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&topk, "topk", topk, "number of ranked classes to report")

	return cmd
}

func classifyFile(s *model.Server, path string, topk int) fileResult {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileResult{File: path, Error: err.Error()}
	}

	img, _, err := imaging.Decode(data)
	if err != nil {
		return fileResult{File: path, Error: "invalid image data: " + err.Error()}
	}

	result, err := s.Predict(img, topk)
	if err != nil {
		return fileResult{File: path, Error: err.Error()}
	}

	return fileResult{File: path, Result: result}
}
