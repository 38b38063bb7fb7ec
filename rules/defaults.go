package rules

// EngineScope is the module that declares the reference capability types.
const EngineScope = "Engine.Core"

// defaultCapabilities lists the template signatures of the reference
// framework. Collection overloads that take arguments are included so that
// lookup has to pick the parameterless one.
var defaultCapabilities = map[string][]string{
	"[" + EngineScope + "]Engine.Component": {
		"GetComponent<1>() : !!0",
		"GetComponents<1>() : !!0[]",
		"GetComponents<1>([" + EngineScope + "]Engine.Collections.List) : void",
		"GetComponentInChildren<1>() : !!0",
		"GetComponentInChildren<1>([System]System.Boolean) : !!0",
		"GetComponentsInChildren<1>([System]System.Boolean) : !!0[]",
		"GetComponentsInChildren<1>() : !!0[]",
	},
	"[" + EngineScope + "]Engine.Object": {
		"static FindObjectOfType<1>() : !!0",
		"static FindObjectsOfType<1>() : !!0[]",
		"static Destroy([" + EngineScope + "]Engine.Object) : void",
	},
}

// DefaultRegistry returns a registry holding the reference capabilities.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for name, sigs := range defaultCapabilities {
		c, err := ParseCapability(name, sigs)
		if err != nil {
			panic(err)
		}
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
	return r
}
