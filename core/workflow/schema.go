package workflow

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// hclFile is the top-level structure of a workflow file for decoding.
type hclFile struct {
	Nodes []*hclNode `hcl:"node,block"`
	Edges []*hclEdge `hcl:"edge,block"`
}

type hclNode struct {
	Name      string        `hcl:"name,label"`
	Kind      string        `hcl:"kind"`
	Title     string        `hcl:"title,optional"`
	Provider  string        `hcl:"provider,optional"`
	Model     string        `hcl:"model,optional"`
	System    string        `hcl:"system,optional"`
	Text      string        `hcl:"text,optional"`
	Thinking  bool          `hcl:"thinking,optional"`
	Transform string        `hcl:"transform,optional"`
	Path      string        `hcl:"path,optional"`
	Folder    string        `hcl:"folder,optional"`
	FileName  string        `hcl:"file_name,optional"`
	Format    string        `hcl:"format,optional"`
	Params    cty.Value     `hcl:"params,optional"`
	Messages  []*hclMessage `hcl:"message,block"`
	DefRange  hcl.Range     `hcl:",def_range"`
}

type hclMessage struct {
	Role     string    `hcl:"role"`
	Content  string    `hcl:"content"`
	DefRange hcl.Range `hcl:",def_range"`
}

type hclEdge struct {
	From     string    `hcl:"from"`
	To       string    `hcl:"to"`
	Slot     string    `hcl:"slot,optional"`
	DefRange hcl.Range `hcl:",def_range"`
}
