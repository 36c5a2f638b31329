package scaffold

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/Masterminds/sprig/v3"
)

// TemplateError reports an unresolved placeholder or a malformed template
// expression. It points at a template/tool version mismatch the user has to
// resolve; the output is never emitted with placeholders left in place.
type TemplateError struct {
	File string
	Err  error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("unable to render template file %s: %v", e.File, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// renderTree walks the template source and writes the rendered tree into
// dest. Filenames and text contents both go through template substitution;
// binary files are copied verbatim. The template's own git metadata never
// ends up in the output.
func renderTree(source, dest string, context map[string]interface{}) error {
	return filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}

		renderedRel, err := renderString(rel, rel, context)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, filepath.FromSlash(renderedRel))

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		return renderFile(path, target, rel, info.Mode().Perm(), context)
	})
}

// renderFile renders one template file into target. Content that is not
// valid UTF-8 is treated as binary and copied byte-for-byte.
func renderFile(path, target, name string, mode os.FileMode, context map[string]interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	if !utf8.Valid(data) {
		return os.WriteFile(target, data, mode)
	}

	rendered, err := renderString(name, string(data), context)
	if err != nil {
		return err
	}
	return os.WriteFile(target, []byte(rendered), mode)
}

// renderString runs text through template substitution. Any reference to a
// context key that does not exist is an error, never silently passed
// through into the output.
func renderString(name, text string, context map[string]interface{}) (string, error) {
	// Fast path for content with no template markers.
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := template.New(name).
		Funcs(sprig.FuncMap()).
		Option("missingkey=error").
		Parse(text)
	if err != nil {
		return "", &TemplateError{File: name, Err: err}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, context); err != nil {
		return "", &TemplateError{File: name, Err: err}
	}
	return buf.String(), nil
}

// CopyTree is a verbatim recursive copy, used when a backend installs
// sources or support files into a tree without substitution.
func CopyTree(source, dest string) error {
	info, err := os.Stat(source)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		return copyFile(source, dest, info.Mode().Perm())
	}

	return filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return os.MkdirAll(dest, 0o755)
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}

		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
