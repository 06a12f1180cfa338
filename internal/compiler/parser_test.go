package compiler

import (
	"strings"
	"testing"
)

const appSource = `import { helper } from "./util"

shared {
  pub type Shape = Circle(r) | Square
  pub fn area(shape) {
    return 1
  }
}

server {
  fn get_count() {
    return 42
  }

  model User {
    name: "string"
  }

  get "/health" {
    return "ok"
  }

  routes "/api" {
    get "/users" {
      return []
    }
  }

  cors {
    allow: "*"
  }
}

server "events" {
  fn publish(msg) {
    return msg
  }
}

client {
  state count = 0
  derived doubled = count.value * 2

  component App(props) {
    return count
  }
}
`

func TestParse_Application(t *testing.T) {
	prog, err := Parse(appSource, "app.tova")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	if prog.Kind() != ModuleApplication {
		t.Errorf("Kind() = %v, want application", prog.Kind())
	}

	servers := prog.ServerBlocks()
	if len(servers) != 2 {
		t.Fatalf("len(ServerBlocks) = %d, want 2", len(servers))
	}
	if servers[0].BlockName != "" || servers[1].BlockName != "events" {
		t.Errorf("server block names = %q, %q", servers[0].BlockName, servers[1].BlockName)
	}

	// Default server block contents.
	kinds := map[NodeKind]int{}
	for _, n := range servers[0].Body {
		kinds[n.Kind]++
	}
	if kinds[KindFunc] != 1 || kinds[KindModel] != 1 || kinds[KindRoute] != 1 ||
		kinds[KindRouteGroup] != 1 || kinds[KindPolicy] != 1 {
		t.Errorf("default server block kinds = %v", kinds)
	}

	clients := prog.ClientBlocks()
	if len(clients) != 1 {
		t.Fatalf("len(ClientBlocks) = %d, want 1", len(clients))
	}
}

func TestParse_Library(t *testing.T) {
	src := `pub fn double(x) {
  return x * 2
}

let internal = 1
pub type Color = Red | Green | Blue
`
	prog, err := Parse(src, "lib.tova")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if prog.Kind() != ModuleLibrary {
		t.Errorf("Kind() = %v, want library", prog.Kind())
	}
	if len(prog.Nodes) != 3 {
		t.Fatalf("len(Nodes) = %d, want 3", len(prog.Nodes))
	}

	fn := prog.Nodes[0]
	if fn.Kind != KindFunc || !fn.Public || fn.Name != "double" {
		t.Errorf("node 0 = %+v", fn)
	}
	if len(fn.Lines) != 1 || strings.TrimSpace(fn.Lines[0].Text) != "return x * 2" {
		t.Errorf("fn body = %+v", fn.Lines)
	}

	v := prog.Nodes[1]
	if v.Kind != KindVar || v.Public || v.Expr != "1" {
		t.Errorf("node 1 = %+v", v)
	}

	ty := prog.Nodes[2]
	if ty.Kind != KindType || len(ty.Variants) != 3 {
		t.Errorf("node 2 = %+v", ty)
	}
}

func TestParse_Provenance(t *testing.T) {
	src := "let a = 1\n\npub fn f() {\n  return a\n}\n"
	prog, err := Parse(src, "p.tova")
	if err != nil {
		t.Fatal(err)
	}
	if got := prog.Nodes[0].Prov; got.File != "p.tova" || got.Line != 1 {
		t.Errorf("var provenance = %+v", got)
	}
	if got := prog.Nodes[1].Prov; got.Line != 3 {
		t.Errorf("fn provenance line = %d, want 3", got.Line)
	}
	if got := prog.Nodes[1].Lines[0].Line; got != 4 {
		t.Errorf("fn body line = %d, want 4", got)
	}
}

func TestParse_Imports(t *testing.T) {
	src := `import { one, two } from "./other"`
	prog, err := Parse(src, "i.tova")
	if err != nil {
		t.Fatal(err)
	}
	n := prog.Nodes[0]
	if n.Kind != KindImport || n.Target != "./other" {
		t.Errorf("import node = %+v", n)
	}
	if len(n.ImportNames) != 2 || n.ImportNames[0] != "one" || n.ImportNames[1] != "two" {
		t.Errorf("ImportNames = %v", n.ImportNames)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown statement", "frobnicate the build\n"},
		{"unclosed block", "fn f() {\n  return 1\n"},
		{"named shared block", `shared "extra" { }` + "\n"},
		{"route outside server", "get \"/x\" {\n}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.src, "bad.tova"); err == nil {
				t.Errorf("Parse(%q) should fail", tt.src)
			}
		})
	}
}

func TestParse_BraceCountingInStrings(t *testing.T) {
	src := "fn f() {\n  return \"{ not a block }\"\n}\n"
	prog, err := Parse(src, "s.tova")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(prog.Nodes) != 1 || len(prog.Nodes[0].Lines) != 1 {
		t.Errorf("braces inside strings should not affect nesting: %+v", prog.Nodes)
	}
}

func TestParse_SingleLineFunction(t *testing.T) {
	prog, err := Parse("fn f() { return 1 }\n", "one.tova")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	fn := prog.Nodes[0]
	if len(fn.Lines) != 1 || strings.TrimSpace(fn.Lines[0].Text) != "return 1" {
		t.Errorf("single-line body = %+v", fn.Lines)
	}
}

func TestModuleKind_Deterministic(t *testing.T) {
	src := "shared {\n}\n"
	a, _ := Parse(src, "a.tova")
	b, _ := Parse(src, "b.tova")
	if a.Kind() != b.Kind() {
		t.Error("kind must be a pure function of the text")
	}
}
