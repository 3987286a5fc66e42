package compiler

// Parse lexes src and builds its program tree.
func Parse(src string) (*Tree, error) {
	return Build(Lex(src))
}

// Compile runs the whole front end and the code generator. The tree is
// returned alongside the assembly so callers can dump or interpret it.
func Compile(src string, tapeLen int, opts ...Option) (*Tree, string, error) {
	tree, err := Parse(src)
	if err != nil {
		return nil, "", err
	}

	assembly, err := Generate(tree, tapeLen, opts...)
	if err != nil {
		return tree, "", err
	}

	return tree, assembly, nil
}
