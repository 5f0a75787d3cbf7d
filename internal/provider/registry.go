package provider

import (
	"fmt"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/mohammed-shakir/sky-coverage/internal/core/model"
	"github.com/mohammed-shakir/sky-coverage/internal/moc"
)

// Registry maps short dataset names to upstream identifiers and display
// styles. It is loaded once and read-only afterwards.
type Registry struct {
	byName map[string]model.Dataset
}

type registryFile struct {
	Defaults struct {
		Order   int     `toml:"order"`
		Frame   string  `toml:"frame"`
		Color   string  `toml:"color"`
		Opacity float64 `toml:"opacity"`
	} `toml:"defaults"`
	Datasets []struct {
		Name    string   `toml:"name"`
		ID      string   `toml:"id"`
		Order   *int     `toml:"order"`
		Frame   string   `toml:"frame"`
		Color   string   `toml:"color"`
		Opacity *float64 `toml:"opacity"`
	} `toml:"dataset"`
}

// LoadRegistry reads a datasets file:
//
//	[defaults]
//	order = 8
//
//	[[dataset]]
//	name = "2mass"
//	id = "CDS/P/2MASS/H"
//	color = "#d62728"
//	opacity = 0.4
func LoadRegistry(path string) (*Registry, error) {
	var raw registryFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load datasets: %w", err)
	}
	if und := meta.Undecoded(); len(und) > 0 {
		return nil, fmt.Errorf("load datasets: unknown keys %v", und)
	}

	defOrder := -1
	if meta.IsDefined("defaults", "order") {
		defOrder = raw.Defaults.Order
	}
	defStyle := model.DefaultStyle
	if meta.IsDefined("defaults", "color") {
		defStyle.Color = strings.TrimSpace(raw.Defaults.Color)
	}
	if meta.IsDefined("defaults", "opacity") {
		defStyle.Opacity = raw.Defaults.Opacity
	}

	r := &Registry{byName: make(map[string]model.Dataset, len(raw.Datasets))}
	for i, d := range raw.Datasets {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, fmt.Errorf("dataset #%d: name is required", i+1)
		}
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("dataset %q listed twice", name)
		}
		ds := model.Dataset{
			Name:  name,
			ID:    strings.TrimSpace(d.ID),
			Order: defOrder,
			Style: defStyle,
		}
		if ds.ID == "" {
			ds.ID = name
		}
		if d.Order != nil {
			ds.Order = *d.Order
		}
		if ds.Order > 29 {
			return nil, fmt.Errorf("dataset %q: order %d outside [0,29]", name, ds.Order)
		}
		frame := d.Frame
		if frame == "" {
			frame = raw.Defaults.Frame
		}
		if ds.Frame, err = moc.ParseFrame(frame); err != nil {
			return nil, fmt.Errorf("dataset %q: %w", name, err)
		}
		if c := strings.TrimSpace(d.Color); c != "" {
			ds.Style.Color = c
		}
		if d.Opacity != nil {
			ds.Style.Opacity = *d.Opacity
		}
		if err := ds.Style.Validate(); err != nil {
			return nil, fmt.Errorf("dataset %q: %w", name, err)
		}
		r.byName[name] = ds
	}
	return r, nil
}

// Lookup returns the entry for name. A nil registry knows nothing.
func (r *Registry) Lookup(name string) (model.Dataset, error) {
	if r != nil {
		if d, ok := r.byName[name]; ok {
			return d, nil
		}
	}
	return model.Dataset{}, notFound(name)
}

// Resolve returns the registry entry for name, or an ad-hoc entry using name
// as the upstream identifier when it is not registered.
func (r *Registry) Resolve(name string) model.Dataset {
	if d, err := r.Lookup(name); err == nil {
		return d
	}
	return model.Dataset{Name: name, ID: name, Order: -1, Frame: moc.FrameICRS, Style: model.DefaultStyle}
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}
