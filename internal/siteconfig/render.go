package siteconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/ini.v1"
)

var funcs = template.FuncMap{"upper": strings.ToUpper}

var configHeader = template.Must(template.New("config").Funcs(funcs).Parse(`;####################################################################
;##################### DO NOT DELETE THIS HEADER ####################
;
; {{upper .Instance}} instance INI file. Every setting not given here is
; inherited from the file named in [Parent_Config].
;

[Parent_Config]
relative_path = {{.Parent}}

; Comma-separated sections of the parent that are replaced as a whole
; instead of merged key by key.
;override_full_sections = "Languages,AlphaBrowse_Types"

;
;       {{upper .Instance}} customization follows.
;
;##################### DO NOT DELETE THIS HEADER ####################
;####################################################################
`))

var languageHeader = template.Must(template.New("language").Funcs(funcs).Parse(`;####################################################################
;##################### DO NOT DELETE THIS HEADER ####################
;
; {{upper .Instance}} instance language file. Every string not given here
; is inherited from the file named in @parent_ini.
;
@parent_ini = "{{.Parent}}"
;
;       {{upper .Instance}} customization follows.
;
;##################### DO NOT DELETE THIS HEADER ####################
;####################################################################
`))

func writeHeader(dest string, tpl *template.Template, instance, parent string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	err = tpl.Execute(f, struct{ Instance, Parent string }{instance, filepath.ToSlash(parent)})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// appendINI appends content as INI to path. Sections and keys are sorted;
// list values become repeated key[] entries.
func appendINI(path string, content map[string]any) error {
	if len(content) == 0 {
		return nil
	}
	cfg := ini.Empty(ini.LoadOptions{AllowShadows: true})
	names := make([]string, 0, len(content))
	for name := range content {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, isSection := content[name].(map[string]any); isSection {
			continue
		}
		if err := setKey(cfg.Section(ini.DefaultSection), name, content[name]); err != nil {
			return err
		}
	}
	for _, name := range names {
		values, isSection := content[name].(map[string]any)
		if !isSection {
			continue
		}
		sec, err := cfg.NewSection(name)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := setKey(sec, k, values[k]); err != nil {
				return err
			}
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, err = cfg.WriteTo(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func setKey(sec *ini.Section, name string, value any) error {
	list, ok := value.([]any)
	if !ok {
		_, err := sec.NewKey(name, scalar(value))
		return err
	}
	for _, v := range list {
		if _, err := sec.NewKey(name+"[]", scalar(v)); err != nil {
			return err
		}
	}
	return nil
}

func scalar(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(v)
	}
}
