package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// document is the on-disk layout written by Save. Durations are kept as
// strings so the file stays readable.
type document struct {
	Storage struct {
		DataDir string `yaml:"dataDir"`
		Backend string `yaml:"backend"`
	} `yaml:"storage"`
	Request struct {
		ExpireTime string `yaml:"expireTime"`
	} `yaml:"request"`
	Teleport struct {
		Delay string `yaml:"delay"`
	} `yaml:"teleport"`
	Home struct {
		MaxCount int `yaml:"maxCount"`
	} `yaml:"home"`
	History struct {
		ExpireTime string `yaml:"expireTime"`
	} `yaml:"history"`
	API struct {
		Addr      string  `yaml:"addr"`
		RateLimit float64 `yaml:"rateLimit"`
		Burst     int     `yaml:"burst"`
	} `yaml:"api"`
	Log struct {
		Verbose bool   `yaml:"verbose"`
		File    string `yaml:"file"`
	} `yaml:"log"`
}

func toDocument(c *Config) document {
	var d document
	d.Storage.DataDir = c.Storage.DataDir
	d.Storage.Backend = c.Storage.Backend
	d.Request.ExpireTime = c.Request.ExpireTime.String()
	d.Teleport.Delay = c.Teleport.Delay.String()
	d.Home.MaxCount = c.Home.MaxCount
	d.History.ExpireTime = c.History.ExpireTime.String()
	d.API.Addr = c.API.Addr
	d.API.RateLimit = c.API.RateLimit
	d.API.Burst = c.API.Burst
	d.Log.Verbose = c.Log.Verbose
	d.Log.File = c.Log.File
	return d
}

// Save writes cfg to path. Values are merged into the existing YAML document
// so comments and unknown keys survive. The result is written to a temp file
// and read back; if it does not load to the same settings, a plain dump is
// written instead.
func Save(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	doc := toDocument(cfg)

	merged, err := mergeInto(path, doc)
	if err == nil {
		if err = writeChecked(path, merged, doc); err == nil {
			return nil
		}
	}

	plain, merr := yaml.Marshal(doc)
	if merr != nil {
		return errors.Join(err, merr)
	}
	if werr := writeChecked(path, plain, doc); werr != nil {
		return fmt.Errorf("save config %s: %w", path, errors.Join(err, werr))
	}
	return nil
}

// mergeInto renders doc on top of the YAML currently at path.
func mergeInto(path string, doc document) ([]byte, error) {
	var fresh yaml.Node
	if err := fresh.Encode(doc); err != nil {
		return nil, err
	}

	root := &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{&fresh}}
	if data, err := os.ReadFile(path); err == nil {
		var existing yaml.Node
		if yaml.Unmarshal(data, &existing) == nil &&
			existing.Kind == yaml.DocumentNode &&
			len(existing.Content) == 1 &&
			existing.Content[0].Kind == yaml.MappingNode {
			mergeMapping(existing.Content[0], &fresh)
			root = &existing
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// mergeMapping copies every key of src into dst, keeping dst's comments.
func mergeMapping(dst, src *yaml.Node) {
	for i := 0; i+1 < len(src.Content); i += 2 {
		key, val := src.Content[i], src.Content[i+1]
		j := indexOf(dst, key.Value)
		if j < 0 {
			dst.Content = append(dst.Content, key, val)
			continue
		}
		cur := dst.Content[j+1]
		if cur.Kind == yaml.MappingNode && val.Kind == yaml.MappingNode {
			mergeMapping(cur, val)
			continue
		}
		val.HeadComment, val.LineComment, val.FootComment = cur.HeadComment, cur.LineComment, cur.FootComment
		dst.Content[j+1] = val
	}
}

func indexOf(mapping *yaml.Node, key string) int {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return i
		}
	}
	return -1
}

// writeChecked writes data next to path, verifies it loads back to want and
// renames it into place.
func writeChecked(path string, data []byte, want document) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(dir, "temp_"+filepath.Base(path))
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := verify(tmp, want); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func verify(path string, want document) error {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("verify %s: %w", path, err)
	}
	got := &Config{}
	if err := v.Unmarshal(got); err != nil {
		return fmt.Errorf("verify %s: %w", path, err)
	}
	if toDocument(got) != want {
		return fmt.Errorf("verify %s: written settings do not match", path)
	}
	return nil
}
