package app

import (
	"fmt"
	"io"

	"github.com/sci-ndp/ndp-catalog-adapter/dataset"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func NewCmdValidate(out io.Writer, fs afero.Fs) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate dataset JSON documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return doValidate(out, fs, file)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "File")

	return cmd
}

func doValidate(out io.Writer, fs afero.Fs, file string) error {
	if file == "" {
		return errors.New("parameter empty")
	}
	data, err := afero.ReadFile(fs, file)
	if err != nil {
		return errors.Wrap(err, "cannot read file")
	}
	if err := dataset.ValidateDocument(data); err != nil {
		fmt.Fprintln(out, "The document is invalid!")
		return err
	}
	req, err := dataset.DecodeCreateRequest(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "Dataset %s is valid (%d resources)\n", req.Name, len(req.Resources))
	return err
}
