package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sdec-dev/sdec/pkg/codec"
	"github.com/sdec-dev/sdec/pkg/schema"
	"github.com/sdec-dev/sdec/pkg/schemadoc"
	"github.com/sdec-dev/sdec/pkg/wire"
)

func decodeCmd() *cobra.Command {
	var schemaPath string

	cmd := &cobra.Command{
		Use:   "decode <packet-file>",
		Short: "Decode a packet against a schema document",
		Long: `Fully decode a packet and print its contents as JSON, with components
and fields labeled by the names from the schema document.

The document must describe the same schema the packet was encoded with;
a hash mismatch is an error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(cmd.OutOrStdout(), args[0], schemaPath)
		},
	}

	cmd.Flags().StringVarP(&schemaPath, "schema", "s", "", "Schema document (JSON)")
	_ = cmd.MarkFlagRequired("schema")

	return cmd
}

// decodeOutput is the JSON shape for all three packet kinds. Fields not
// relevant to a kind stay empty.
type decodeOutput struct {
	Kind         string       `json:"kind"`
	Tick         uint32       `json:"tick,omitempty"`
	BaselineTick uint32       `json:"baseline_tick,omitempty"`
	SessionID    *uint64      `json:"session_id,omitempty"`
	Mode         string       `json:"mode,omitempty"`
	Entities     []entityJSON `json:"entities,omitempty"`
	Destroys     []uint32     `json:"destroys,omitempty"`
	Creates      []entityJSON `json:"creates,omitempty"`
	Updates      []entityJSON `json:"updates,omitempty"`
}

type entityJSON struct {
	ID         uint32                    `json:"id"`
	Components map[string]map[string]any `json:"components"`
}

// schemaNames maps ids back to the document's names for readable output.
type schemaNames struct {
	components map[schema.ComponentID]componentNames
}

type componentNames struct {
	name   string
	fields []string
}

func namesFromDocument(d *schemadoc.Document) schemaNames {
	n := schemaNames{components: make(map[schema.ComponentID]componentNames, len(d.Components))}
	for _, c := range d.Components {
		name := c.Name
		if name == "" {
			name = fmt.Sprintf("component_%d", c.ID)
		}
		fields := make([]string, len(c.Fields))
		for i, f := range c.Fields {
			fields[i] = f.Name
			if fields[i] == "" {
				fields[i] = fmt.Sprintf("field_%d", f.ID)
			}
		}
		n.components[schema.ComponentID(c.ID)] = componentNames{name: name, fields: fields}
	}
	return n
}

func (n schemaNames) component(id schema.ComponentID) componentNames {
	if c, ok := n.components[id]; ok {
		return c
	}
	return componentNames{name: fmt.Sprintf("component_%d", id)}
}

func (c componentNames) field(i int) string {
	if i < len(c.fields) {
		return c.fields[i]
	}
	return fmt.Sprintf("field_index_%d", i)
}

func valueJSON(v codec.Value) any {
	switch v.Kind() {
	case schema.KindBool:
		return v.AsBool()
	case schema.KindUint:
		return v.AsUint()
	case schema.KindInt:
		return v.AsInt()
	case schema.KindVarUint:
		return v.AsVarUint()
	case schema.KindVarInt:
		return v.AsVarInt()
	case schema.KindFixedPoint:
		return v.AsFixed()
	default:
		return v.String()
	}
}

func entityToJSON(e codec.Entity, names schemaNames) entityJSON {
	out := entityJSON{ID: uint32(e.ID), Components: make(map[string]map[string]any, len(e.Components))}
	for _, comp := range e.Components {
		cn := names.component(comp.ID)
		fields := make(map[string]any, len(comp.Fields))
		for i, v := range comp.Fields {
			fields[cn.field(i)] = valueJSON(v)
		}
		out.Components[cn.name] = fields
	}
	return out
}

func updateToJSON(eu codec.EntityUpdate, names schemaNames) entityJSON {
	out := entityJSON{ID: uint32(eu.ID), Components: make(map[string]map[string]any, len(eu.Components))}
	for _, cu := range eu.Components {
		cn := names.component(cu.ID)
		fields := make(map[string]any, len(cu.Fields))
		for _, fu := range cu.Fields {
			fields[cn.field(fu.Index)] = valueJSON(fu.Value)
		}
		out.Components[cn.name] = fields
	}
	return out
}

func runDecode(w io.Writer, packetPath, schemaPath string) error {
	docData, err := os.ReadFile(schemaPath)
	if err != nil {
		return err
	}
	doc, err := schemadoc.ParseDocument(docData)
	if err != nil {
		return err
	}
	s, err := doc.Schema(wire.DefaultLimits())
	if err != nil {
		return err
	}
	c, err := codec.New(s, wire.DefaultLimits())
	if err != nil {
		return err
	}

	pkt, err := os.ReadFile(packetPath)
	if err != nil {
		return err
	}
	dec, err := c.Decode(pkt)
	if err != nil {
		return fmt.Errorf("decode %s: %w", packetPath, err)
	}

	names := namesFromDocument(doc)
	out := decodeOutput{Tick: dec.Header.Tick}
	switch {
	case dec.Init != nil:
		out.Kind = "init"
		out.SessionID = &dec.Init.SessionID
		out.Mode = dec.Init.Mode.String()
	case dec.Full != nil:
		out.Kind = "full"
		out.Entities = make([]entityJSON, 0, len(dec.Full.Entities))
		for _, e := range dec.Full.Entities {
			out.Entities = append(out.Entities, entityToJSON(e, names))
		}
	case dec.Delta != nil:
		out.Kind = "delta"
		out.BaselineTick = dec.Header.BaselineTick
		for _, id := range dec.Delta.Destroys {
			out.Destroys = append(out.Destroys, uint32(id))
		}
		for _, e := range dec.Delta.Creates {
			out.Creates = append(out.Creates, entityToJSON(e, names))
		}
		for _, eu := range dec.Delta.Updates {
			out.Updates = append(out.Updates, updateToJSON(eu, names))
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(data))
	return nil
}
