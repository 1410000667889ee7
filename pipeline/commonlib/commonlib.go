// Package commonlib packages the shared third-party libraries into a single
// cacheable artifact so they can be excluded from every application bundle.
package commonlib

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

// A Library names one shared script and where its distributed build lives.
// The slice order handed to Pack is the concatenation order.
type Library struct {
	Name string
	Path string
}

// Pack concatenates the libraries in order, minifies the result and writes it
// to outFile.  Any missing input file fails the whole pack; the list is
// manually curated and short, so partial output would only hide mistakes.
func Pack(libs []Library, outFile string) error {
	if len(libs) == 0 {
		return errors.New(`commonlib: no libraries configured`)
	}
	var buf bytes.Buffer
	for _, lib := range libs {
		src, err := os.ReadFile(lib.Path)
		if err != nil {
			return fmt.Errorf(`commonlib: %s: %w`, lib.Name, err)
		}
		fmt.Fprintf(&buf, "// %s\n", lib.Name)
		buf.Write(src)
		// the separator keeps one library's trailing expression from
		// swallowing the next one's opening parenthesis
		buf.WriteString("\n;\n")
	}
	ret := esbuild.Transform(buf.String(), esbuild.TransformOptions{
		Loader:           esbuild.LoaderJS,
		MinifyWhitespace: true,
		MinifySyntax:     true,
		// identifier renaming stays off: top-level names here are the
		// libraries' public globals
	})
	if len(ret.Errors) > 0 {
		return fmt.Errorf(`commonlib: minify: %s`, ret.Errors[0].Text)
	}
	if err := os.MkdirAll(filepath.Dir(outFile), 0o755); err != nil {
		return err
	}
	return os.WriteFile(outFile, ret.Code, 0o644)
}
