package chunker

import (
	"strings"

	"github.com/repochat/repochat/pkg/models"
)

// The script engines are lightweight line scanners, not full parsers.
// They track bracket depth outside strings and comments to find where a
// top-level construct ends, which is enough to slice well-formed source
// into declaration-sized chunks.

// lineScanner tracks bracket depth across lines, ignoring brackets that
// appear inside string literals and comments.
type lineScanner struct {
	lineComment  string
	blockComment bool
	backtick     bool

	depth   int
	opened  int
	inBlock bool
	str     byte
	triple  bool
}

func (s *lineScanner) feed(line string) {
	for i := 0; i < len(line); i++ {
		c := line[i]
		if s.inBlock {
			if c == '*' && i+1 < len(line) && line[i+1] == '/' {
				s.inBlock = false
				i++
			}
			continue
		}
		if s.str != 0 {
			if s.triple {
				if c == s.str && strings.HasPrefix(line[i:], strings.Repeat(string(s.str), 3)) {
					s.str, s.triple = 0, false
					i += 2
				}
				continue
			}
			if c == '\\' {
				i++
				continue
			}
			if c == s.str {
				s.str = 0
			}
			continue
		}
		if s.lineComment != "" && strings.HasPrefix(line[i:], s.lineComment) {
			return
		}
		if s.blockComment && strings.HasPrefix(line[i:], "/*") {
			s.inBlock = true
			i++
			continue
		}
		switch c {
		case '\'', '"':
			s.str = c
			if strings.HasPrefix(line[i:], strings.Repeat(string(c), 3)) {
				s.triple = true
				i += 2
			}
		case '`':
			if s.backtick {
				s.str = c
			}
		case '{':
			s.depth++
			s.opened++
		case '(', '[':
			s.depth++
		case '}', ')', ']':
			s.depth--
		}
	}
	// Single-quote strings do not span lines in any language we scan,
	// so an unterminated one is closed rather than poisoning the rest
	// of the file.
	if s.str != 0 && !s.triple && s.str != '`' {
		s.str = 0
	}
}

func (s *lineScanner) balanced() bool {
	return s.depth <= 0 && s.str == 0 && !s.inBlock
}

// chunkPython scans column-zero statements: classes and defs own their
// indented block, everything else spans until its brackets balance.
func chunkPython(path, text string, lines []string) ([]models.Chunk, bool) {
	var chunks []models.Chunk
	add := func(kind models.ChunkKind, name string, start, end int) {
		chunks = append(chunks, models.Chunk{
			Kind:      kind,
			Name:      name,
			Content:   lineSpan(lines, start, end),
			Path:      path,
			StartLine: start,
			EndLine:   end,
		})
	}

	i := 0
	if ds, de, ok := pythonDocstring(lines); ok {
		add(models.KindModuleDocstring, "", ds+1, de+1)
		i = de + 1
	}

	decorator := -1
	for i < len(lines) {
		line := lines[i]
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			i++
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			// Body of an unrecognized block statement.
			i++
			continue
		}
		start := i
		if decorator >= 0 {
			start = decorator
		}
		switch {
		case strings.HasPrefix(trimmed, "#"):
			i++
		case strings.HasPrefix(trimmed, "@"):
			if decorator < 0 {
				decorator = i
			}
			i = pyStatementEnd(lines, i) + 1
		case hasWord(trimmed, "class"):
			sig := pyStatementEnd(lines, i)
			end := pyBlockEnd(lines, sig+1, sig)
			add(models.KindClass, identAfter(trimmed, "class"), start+1, end+1)
			decorator = -1
			i = end + 1
		case pyIsDef(trimmed):
			sig := pyStatementEnd(lines, i)
			end := pyBlockEnd(lines, sig+1, sig)
			add(models.KindMethod, pyDefName(trimmed), start+1, end+1)
			decorator = -1
			i = end + 1
		case hasWord(trimmed, "import") || hasWord(trimmed, "from"):
			end := pyStatementEnd(lines, i)
			add(models.KindImport, "", i+1, end+1)
			decorator = -1
			i = end + 1
		default:
			end := pyStatementEnd(lines, i)
			if name, ok := pyAssignName(trimmed); ok {
				add(models.KindVariable, name, i+1, end+1)
			}
			decorator = -1
			i = end + 1
		}
	}
	return chunks, false
}

// pythonDocstring reports the line span of a module docstring, a string
// literal standing alone as the first statement in the file.
func pythonDocstring(lines []string) (start, end int, ok bool) {
	i := 0
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	if i >= len(lines) || lines[i] == "" || lines[i][0] == ' ' || lines[i][0] == '\t' {
		return 0, 0, false
	}
	rest := strings.TrimLeft(lines[i], "rRbBuUfF")
	for _, delim := range []string{`"""`, `'''`} {
		if !strings.HasPrefix(rest, delim) {
			continue
		}
		if strings.Contains(rest[len(delim):], delim) {
			return i, i, true
		}
		for j := i + 1; j < len(lines); j++ {
			if strings.Contains(lines[j], delim) {
				return i, j, true
			}
		}
		return i, len(lines) - 1, true
	}
	if strings.HasPrefix(rest, `"`) || strings.HasPrefix(rest, `'`) {
		return i, i, true
	}
	return 0, 0, false
}

// pyStatementEnd returns the index of the last line of the statement
// starting at i, honoring open brackets and backslash continuations.
func pyStatementEnd(lines []string, i int) int {
	sc := &lineScanner{lineComment: "#"}
	for ; i < len(lines); i++ {
		sc.feed(lines[i])
		cont := strings.HasSuffix(strings.TrimRight(lines[i], " \t"), "\\")
		if sc.balanced() && !cont {
			return i
		}
	}
	return len(lines) - 1
}

// pyBlockEnd returns the last non-blank indented line at or after from,
// or fallback when the block has no body.
func pyBlockEnd(lines []string, from, fallback int) int {
	last := fallback
	for j := from; j < len(lines); j++ {
		t := strings.TrimSpace(lines[j])
		if t == "" {
			continue
		}
		if lines[j][0] != ' ' && lines[j][0] != '\t' {
			break
		}
		last = j
	}
	return last
}

func pyIsDef(trimmed string) bool {
	if hasWord(trimmed, "async") {
		trimmed = strings.TrimSpace(trimmed[len("async"):])
	}
	return hasWord(trimmed, "def")
}

func pyDefName(trimmed string) string {
	if hasWord(trimmed, "async") {
		trimmed = strings.TrimSpace(trimmed[len("async"):])
	}
	return identAfter(trimmed, "def")
}

// pyAssignName recognizes simple module-level assignments, annotated or
// not. Augmented assignments and attribute targets are not declarations
// and report false.
func pyAssignName(trimmed string) (string, bool) {
	idx := -1
	for j := 0; j < len(trimmed); j++ {
		if trimmed[j] != '=' {
			continue
		}
		if j+1 < len(trimmed) && trimmed[j+1] == '=' {
			j++
			continue
		}
		if j > 0 && strings.ContainsRune("!<>+-*/%&|^:~=", rune(trimmed[j-1])) {
			continue
		}
		idx = j
		break
	}
	if idx < 0 {
		return "", false
	}
	lhs := strings.TrimSpace(trimmed[:idx])
	if c := strings.IndexByte(lhs, ':'); c >= 0 {
		lhs = strings.TrimSpace(lhs[:c])
	}
	if !isIdent(lhs) {
		return "", false
	}
	return lhs, true
}

// chunkJS handles the JavaScript family, TypeScript included.
func chunkJS(path, text string, lines []string) ([]models.Chunk, bool) {
	var chunks []models.Chunk
	add := func(kind models.ChunkKind, name string, start, end int) {
		chunks = append(chunks, models.Chunk{
			Kind:      kind,
			Name:      name,
			Content:   lineSpan(lines, start, end),
			Path:      path,
			StartLine: start,
			EndLine:   end,
		})
	}

	i := 0
	decorator := -1
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			i++
			continue
		}
		if strings.HasPrefix(trimmed, "//") {
			i++
			continue
		}
		if strings.HasPrefix(trimmed, "/*") {
			i = jsCommentEnd(lines, i) + 1
			continue
		}
		start := i
		if decorator >= 0 {
			start = decorator
		}
		first := firstWord(trimmed)
		switch {
		case strings.HasPrefix(trimmed, "@"):
			if decorator < 0 {
				decorator = i
			}
			i = jsStatementEnd(lines, i) + 1
			continue
		case first == "import":
			end := jsStatementEnd(lines, i)
			add(models.KindImport, "", i+1, end+1)
			i = end + 1
		case first == "export":
			end := jsStatementEnd(lines, i)
			add(models.KindExport, "", start+1, end+1)
			i = end + 1
		case first == "class" || (first == "abstract" && secondWord(trimmed) == "class"):
			end := jsStatementEnd(lines, i)
			add(models.KindClass, identAfter(trimmed, "class"), start+1, end+1)
			i = end + 1
		case first == "interface" || first == "enum":
			end := jsStatementEnd(lines, i)
			add(models.KindClass, identAfter(trimmed, first), start+1, end+1)
			i = end + 1
		case first == "type" && strings.Contains(trimmed, "="):
			end := jsStatementEnd(lines, i)
			add(models.KindClass, identAfter(trimmed, "type"), start+1, end+1)
			i = end + 1
		case first == "function" || (first == "async" && secondWord(trimmed) == "function"):
			end := jsStatementEnd(lines, i)
			add(models.KindMethod, jsFuncName(trimmed), start+1, end+1)
			i = end + 1
		case first == "const" || first == "let" || first == "var":
			end := jsStatementEnd(lines, i)
			kind := models.KindVariable
			name := identAfter(trimmed, first)
			if strings.Contains(lineSpan(lines, i+1, end+1), "require(") {
				kind, name = models.KindImport, ""
			}
			add(kind, name, i+1, end+1)
			i = end + 1
		default:
			i = jsStatementEnd(lines, i) + 1
		}
		decorator = -1
	}
	return chunks, false
}

// jsStatementEnd walks from line i until the construct closes: brackets
// balanced and either a brace block was consumed or the line does not
// continue into the next.
func jsStatementEnd(lines []string, i int) int {
	sc := &lineScanner{lineComment: "//", blockComment: true, backtick: true}
	for ; i < len(lines); i++ {
		sc.feed(lines[i])
		if !sc.balanced() {
			continue
		}
		if sc.opened > 0 {
			return i
		}
		t := strings.TrimRight(strings.TrimSpace(lines[i]), " \t")
		if strings.HasSuffix(t, "=") || strings.HasSuffix(t, "=>") ||
			strings.HasSuffix(t, ",") || strings.HasSuffix(t, "||") ||
			strings.HasSuffix(t, "&&") || strings.HasSuffix(t, "+") {
			continue
		}
		return i
	}
	return len(lines) - 1
}

func jsCommentEnd(lines []string, i int) int {
	sc := &lineScanner{lineComment: "//", blockComment: true, backtick: true}
	for ; i < len(lines); i++ {
		sc.feed(lines[i])
		if !sc.inBlock {
			return i
		}
	}
	return len(lines) - 1
}

func jsFuncName(trimmed string) string {
	if hasWord(trimmed, "async") {
		trimmed = strings.TrimSpace(trimmed[len("async"):])
	}
	rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "function"))
	rest = strings.TrimSpace(strings.TrimPrefix(rest, "*"))
	return leadingIdent(rest)
}

// chunkCFamily covers Java and C++ headers and sources with the same
// heuristics: modifiers are stripped, then the first keyword decides.
func chunkCFamily(path, text string, lines []string) ([]models.Chunk, bool) {
	var chunks []models.Chunk
	add := func(kind models.ChunkKind, name string, start, end int) {
		chunks = append(chunks, models.Chunk{
			Kind:      kind,
			Name:      name,
			Content:   lineSpan(lines, start, end),
			Path:      path,
			StartLine: start,
			EndLine:   end,
		})
	}

	i := 0
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			i++
			continue
		}
		if strings.HasPrefix(trimmed, "//") {
			i++
			continue
		}
		if strings.HasPrefix(trimmed, "/*") {
			i = jsCommentEnd(lines, i) + 1
			continue
		}
		stripped := stripModifiers(trimmed)
		switch {
		case strings.HasPrefix(trimmed, "#include"):
			add(models.KindImport, "", i+1, i+1)
			i++
		case strings.HasPrefix(trimmed, "#"):
			i++
		case hasWord(trimmed, "import"):
			end := cStatementEnd(lines, i)
			add(models.KindImport, "", i+1, end+1)
			i = end + 1
		case hasAnyWord(stripped, "class", "interface", "enum", "struct", "union", "record"):
			end := cBlockEnd(lines, i)
			add(models.KindClass, classNameOf(stripped), i+1, end+1)
			i = end + 1
		case cLooksLikeFunc(stripped):
			end, opened := cFuncEnd(lines, i)
			if opened {
				add(models.KindMethod, cFuncName(stripped), i+1, end+1)
			}
			i = end + 1
		case cLooksLikeVar(stripped):
			end := cStatementEnd(lines, i)
			add(models.KindVariable, cVarName(stripped), i+1, end+1)
			i = end + 1
		default:
			i = cStatementEnd(lines, i) + 1
		}
	}
	return chunks, false
}

var cModifiers = map[string]bool{
	"public": true, "private": true, "protected": true, "static": true,
	"final": true, "abstract": true, "synchronized": true, "native": true,
	"transient": true, "volatile": true, "strictfp": true, "sealed": true,
	"inline": true, "extern": true, "constexpr": true, "virtual": true,
	"typedef": true, "friend": true, "explicit": true,
}

func stripModifiers(trimmed string) string {
	for {
		w := firstWord(trimmed)
		if w == "" || !cModifiers[w] {
			return trimmed
		}
		trimmed = strings.TrimSpace(trimmed[len(w):])
	}
}

func classNameOf(stripped string) string {
	for _, kw := range []string{"class", "interface", "enum", "struct", "union", "record"} {
		if hasWord(stripped, kw) {
			return identAfter(stripped, kw)
		}
	}
	return ""
}

// cStatementEnd runs until brackets balance and the statement looks
// terminated by a semicolon or a consumed block.
func cStatementEnd(lines []string, i int) int {
	sc := &lineScanner{lineComment: "//", blockComment: true}
	for ; i < len(lines); i++ {
		sc.feed(lines[i])
		if !sc.balanced() {
			continue
		}
		t := strings.TrimSpace(lines[i])
		if sc.opened > 0 || strings.HasSuffix(t, ";") || strings.HasSuffix(t, "}") {
			return i
		}
		if !strings.HasSuffix(t, "=") && !strings.HasSuffix(t, ",") {
			return i
		}
	}
	return len(lines) - 1
}

// cBlockEnd consumes a braced body, tolerating the trailing semicolon
// of C++ class definitions.
func cBlockEnd(lines []string, i int) int {
	sc := &lineScanner{lineComment: "//", blockComment: true}
	for ; i < len(lines); i++ {
		sc.feed(lines[i])
		if sc.balanced() && sc.opened > 0 {
			return i
		}
		if sc.balanced() && strings.HasSuffix(strings.TrimSpace(lines[i]), ";") {
			// Forward declaration, no body.
			return i
		}
	}
	return len(lines) - 1
}

// cFuncEnd consumes a function definition. opened reports whether a
// body was found; a bare prototype never opens one.
func cFuncEnd(lines []string, i int) (int, bool) {
	sc := &lineScanner{lineComment: "//", blockComment: true}
	for ; i < len(lines); i++ {
		sc.feed(lines[i])
		if !sc.balanced() {
			continue
		}
		if sc.opened > 0 {
			return i, true
		}
		if strings.HasSuffix(strings.TrimSpace(lines[i]), ";") {
			return i, false
		}
	}
	return len(lines) - 1, false
}

var cControlWords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true,
	"return": true, "catch": true, "do": true, "else": true,
}

// cLooksLikeFunc matches `type name(args...` shapes with no assignment
// before the parameter list.
func cLooksLikeFunc(stripped string) bool {
	paren := strings.IndexByte(stripped, '(')
	if paren <= 0 {
		return false
	}
	head := stripped[:paren]
	if strings.ContainsAny(head, "=;") {
		return false
	}
	fields := strings.Fields(head)
	if len(fields) == 0 || cControlWords[fields[0]] {
		return false
	}
	return isIdentTail(fields[len(fields)-1])
}

func cFuncName(stripped string) string {
	paren := strings.IndexByte(stripped, '(')
	if paren <= 0 {
		return ""
	}
	fields := strings.Fields(stripped[:paren])
	if len(fields) == 0 {
		return ""
	}
	name := fields[len(fields)-1]
	name = strings.TrimLeft(name, "*&")
	if dot := strings.LastIndexAny(name, ".:"); dot >= 0 {
		name = name[dot+1:]
	}
	return name
}

func cLooksLikeVar(stripped string) bool {
	eq := strings.IndexByte(stripped, '=')
	if eq <= 0 {
		return false
	}
	if paren := strings.IndexByte(stripped, '('); paren >= 0 && paren < eq {
		return false
	}
	return len(strings.Fields(stripped[:eq])) >= 1
}

func cVarName(stripped string) string {
	eq := strings.IndexByte(stripped, '=')
	if eq <= 0 {
		return ""
	}
	fields := strings.Fields(stripped[:eq])
	if len(fields) == 0 {
		return ""
	}
	name := strings.TrimLeft(fields[len(fields)-1], "*&")
	if b := strings.IndexByte(name, '['); b >= 0 {
		name = name[:b]
	}
	return name
}

// Shared token helpers.

func firstWord(s string) string {
	end := 0
	for end < len(s) && isIdentByte(s[end]) {
		end++
	}
	return s[:end]
}

func secondWord(s string) string {
	w := firstWord(s)
	return firstWord(strings.TrimSpace(s[len(w):]))
}

// hasWord reports whether s begins with the word kw followed by a
// non-identifier boundary.
func hasWord(s, kw string) bool {
	if !strings.HasPrefix(s, kw) {
		return false
	}
	return len(s) == len(kw) || !isIdentByte(s[len(kw)])
}

func hasAnyWord(s string, kws ...string) bool {
	for _, kw := range kws {
		if hasWord(s, kw) {
			return true
		}
	}
	return false
}

// identAfter returns the identifier following the keyword kw in s.
func identAfter(s, kw string) string {
	idx := strings.Index(s, kw)
	if idx < 0 {
		return ""
	}
	return leadingIdent(strings.TrimSpace(s[idx+len(kw):]))
}

func leadingIdent(s string) string {
	end := 0
	for end < len(s) && isIdentByte(s[end]) {
		end++
	}
	return s[:end]
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	if s[0] >= '0' && s[0] <= '9' {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return false
		}
	}
	return true
}

func isIdentTail(s string) bool {
	s = strings.TrimLeft(s, "*&")
	if dot := strings.LastIndexAny(s, ".:"); dot >= 0 {
		s = s[dot+1:]
	}
	return isIdent(s)
}
