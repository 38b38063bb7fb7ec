package weaver

import "github.com/chazu/loom/module"

// LocateOrCreate returns the method called name on t. When t has none, it
// adds a private, parameterless, void method whose body is a single ret.
// Calling it again with the same arguments returns the same method.
func LocateOrCreate(t *module.TypeDecl, name string) (md *module.MethodDecl, created bool) {
	if md := t.Method(name); md != nil {
		return md, false
	}
	md = t.AddMethod(&module.MethodDecl{
		Name:       name,
		Attrs:      module.MethodPrivate | module.MethodHideBySig,
		InitLocals: true,
	})
	md.Emit(module.OpRet, nil)
	return md, true
}
