package chunker

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	"github.com/repochat/repochat/pkg/models"
)

// chunkGo extracts top-level declarations with go/parser. Syntax errors
// still yield a partial AST, so whatever parsed is kept and the caller
// is told the result is incomplete.
func chunkGo(path, text string, lines []string) ([]models.Chunk, bool) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, text, parser.ParseComments)
	degraded := err != nil
	if file == nil {
		return nil, true
	}

	var chunks []models.Chunk
	add := func(kind models.ChunkKind, name string, from, to token.Pos) {
		start := fset.Position(from).Line
		end := fset.Position(to).Line
		chunks = append(chunks, models.Chunk{
			Kind:      kind,
			Name:      name,
			Content:   lineSpan(lines, start, end),
			Path:      path,
			StartLine: start,
			EndLine:   end,
		})
	}

	if file.Doc != nil {
		add(models.KindModuleDocstring, "", file.Doc.Pos(), file.Doc.End())
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			add(models.KindMethod, funcName(d), d.Pos(), d.End())
		case *ast.GenDecl:
			switch d.Tok {
			case token.IMPORT:
				add(models.KindImport, "", d.Pos(), d.End())
			case token.TYPE:
				for _, spec := range d.Specs {
					ts, ok := spec.(*ast.TypeSpec)
					if !ok {
						continue
					}
					from := ts.Pos()
					if len(d.Specs) == 1 {
						from = d.Pos()
					}
					add(models.KindClass, ts.Name.Name, from, ts.End())
				}
			case token.VAR, token.CONST:
				for _, spec := range d.Specs {
					vs, ok := spec.(*ast.ValueSpec)
					if !ok {
						continue
					}
					from := vs.Pos()
					if len(d.Specs) == 1 {
						from = d.Pos()
					}
					add(models.KindVariable, specNames(vs), from, vs.End())
				}
			}
		}
	}
	return chunks, degraded
}

// funcName qualifies methods by their receiver type, Type.Method.
func funcName(d *ast.FuncDecl) string {
	name := d.Name.Name
	if d.Recv == nil || len(d.Recv.List) == 0 {
		return name
	}
	if recv := recvTypeName(d.Recv.List[0].Type); recv != "" {
		return recv + "." + name
	}
	return name
}

func recvTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return recvTypeName(t.X)
	case *ast.IndexExpr:
		return recvTypeName(t.X)
	case *ast.IndexListExpr:
		return recvTypeName(t.X)
	}
	return ""
}

func specNames(vs *ast.ValueSpec) string {
	names := make([]string, 0, len(vs.Names))
	for _, n := range vs.Names {
		names = append(names, n.Name)
	}
	return strings.Join(names, ", ")
}
