package dsl

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	versionRe   = regexp.MustCompile(`^version\s+(\S+)$`)
	entityRe    = regexp.MustCompile(`^entity\s+(\w+)\s*:(.*)$`)
	fieldRe     = regexp.MustCompile(`^\s*([\w_]+):\s*([^\s#]+)(.*)$`)
	viewRe      = regexp.MustCompile(`^view\s+(\w+)\s*:$`)
	viewFieldRe = regexp.MustCompile(`^([\w_]+)\s*=\s*(.+)$`)
	refRe       = regexp.MustCompile(`^ref\[\s*([A-Za-z0-9_]+)\s*\]$`)
	refsRe      = regexp.MustCompile(`^refs\[(.+)\]$`)
)

// // parse: options tokenizer — делит "k=v k2='v 2' pattern=^[A-Z0-9 _-]+$" на токены, не рвёт по пробелам внутри кавычек/скобок
func splitOptionTokens(s string) []string {
	var out []string
	var buf []rune
	inSingle, inDouble := false, false
	bracketDepth := 0 // внутри [ ... ] у регэкспа

	flush := func() {
		if len(buf) > 0 {
			out = append(out, string(buf))
			buf = buf[:0]
		}
	}

	for _, r := range s {
		switch r {
		case '\'':
			if !inDouble && bracketDepth == 0 {
				inSingle = !inSingle
			}
			buf = append(buf, r)
		case '"':
			if !inSingle && bracketDepth == 0 {
				inDouble = !inDouble
			}
			buf = append(buf, r)
		case '[':
			if !inSingle && !inDouble {
				bracketDepth++
			}
			buf = append(buf, r)
		case ']':
			if !inSingle && !inDouble && bracketDepth > 0 {
				bracketDepth--
			}
			buf = append(buf, r)
		default:
			if (r == ' ' || r == '\t') && !inSingle && !inDouble && bracketDepth == 0 {
				flush()
				continue
			}
			buf = append(buf, r)
		}
	}
	flush()
	return out
}

// stripComment срезает "# ..." вне кавычек.
func stripComment(s string) string {
	inSingle, inDouble := false, false
	for i, r := range s {
		switch r {
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
		case '#':
			if !inSingle && !inDouble {
				return strings.TrimSpace(s[:i])
			}
		}
	}
	return strings.TrimSpace(s)
}

func unquote(v string) (string, bool) {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1], true
		}
	}
	return v, false
}

// parseOptions: флаг без значения → "true", k=v — значение без кавычек.
func parseOptions(raw string) map[string]string {
	opts := map[string]string{}
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(strings.ToLower(raw), "options:") {
		raw = strings.TrimSpace(raw[len("options:"):])
	}
	for _, tok := range splitOptionTokens(raw) {
		tok = strings.Trim(strings.TrimSpace(tok), ",")
		if tok == "" {
			continue
		}
		if !strings.Contains(tok, "=") {
			opts[strings.ToLower(tok)] = "true"
			continue
		}
		kv := strings.SplitN(tok, "=", 2)
		k := strings.ToLower(strings.TrimSpace(kv[0]))
		v, _ := unquote(strings.TrimSpace(kv[1]))
		if k != "" {
			opts[k] = v
		}
	}
	return opts
}

// Parse читает DSL схемы:
//
//	version 0.2.0
//	entity Users: auth
//	  email: text required max=120 pattern='^.+@.+$'
//	  manager: ref[Users]
//	  view public:
//	    title = email
//	    kind = 'user'
func Parse(r io.Reader) (*File, error) {
	out := &File{}
	var current *Entity
	var view *View

	scanner := bufio.NewScanner(r)
	n := 0
	for scanner.Scan() {
		n++
		line := stripComment(scanner.Text())
		if line == "" {
			continue
		}

		if m := versionRe.FindStringSubmatch(line); m != nil {
			if out.Version != "" {
				return nil, fmt.Errorf("line %d: version declared twice", n)
			}
			out.Version = m[1]
			continue
		}

		// entity <Name>: [kind] [id=...]
		if m := entityRe.FindStringSubmatch(line); m != nil {
			current = &Entity{Name: m[1], Kind: "data", Line: n}
			view = nil
			for _, tok := range splitOptionTokens(m[2]) {
				if k, v, ok := strings.Cut(tok, "="); ok {
					if strings.ToLower(k) != "id" {
						return nil, fmt.Errorf("line %d: unknown entity option %q", n, k)
					}
					current.ID, _ = unquote(v)
					continue
				}
				current.Kind = strings.ToLower(tok)
			}
			out.Entities = append(out.Entities, current)
			continue
		}
		if current == nil {
			return nil, fmt.Errorf("line %d: %q outside of an entity", n, line)
		}

		if m := viewRe.FindStringSubmatch(line); m != nil {
			current.Views = append(current.Views, View{Name: m[1], Line: n})
			view = &current.Views[len(current.Views)-1]
			continue
		}
		if view != nil {
			if m := viewFieldRe.FindStringSubmatch(line); m != nil {
				v, static := unquote(strings.TrimSpace(m[2]))
				view.Fields = append(view.Fields, ViewField{Name: m[1], Value: v, Static: static})
				continue
			}
			view = nil
		}

		if m := fieldRe.FindStringSubmatch(line); m != nil {
			rawType := m[2]
			tail := m[3]
			// склейка оборванных типов со скобками: refs[A, B]
			if strings.Contains(rawType, "[") && !strings.Contains(rawType, "]") {
				if idx := strings.Index(tail, "]"); idx >= 0 {
					rawType += tail[:idx+1]
					tail = tail[idx+1:]
				}
			}
			f := Field{Name: m[1], Options: parseOptions(tail), Line: n}
			switch {
			case refRe.MatchString(rawType):
				f.Type = "ref"
				f.Targets = []string{refRe.FindStringSubmatch(rawType)[1]}
			case refsRe.MatchString(rawType):
				f.Type = "refs"
				for _, p := range strings.Split(refsRe.FindStringSubmatch(rawType)[1], ",") {
					if p = strings.TrimSpace(p); p != "" {
						f.Targets = append(f.Targets, p)
					}
				}
			default:
				f.Type = strings.ToLower(rawType)
			}
			current.Fields = append(current.Fields, f)
			continue
		}
		return nil, fmt.Errorf("line %d: cannot parse %q", n, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func ParseFile(path string) (*File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	f, err := Parse(file)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return f, nil
}

// ParseDir собирает все .dsl файлы каталога в один. Версия объявляется ровно в одном файле.
func ParseDir(root string) (*File, error) {
	out := &File{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".dsl") {
			return nil
		}
		f, err := ParseFile(path)
		if err != nil {
			return err
		}
		if f.Version != "" {
			if out.Version != "" {
				return fmt.Errorf("%s: version already declared (%s)", path, out.Version)
			}
			out.Version = f.Version
		}
		out.Entities = append(out.Entities, f.Entities...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
