// Package factory instantiates pluggable modules, such as metrics sinks and
// audit backends, from a type name and a map of raw settings.
//
//	reg := factory.NewRegistry[audit.Store]()
//	reg.Register("jsonl", func(conf map[string]any) (audit.Store, error) {
//	    var c struct{ Path string `json:"path"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return audit.NewJSONLStore(c.Path)
//	})
//	s, err := reg.Create(factory.ModuleConfig{Type: "jsonl", Conf: map[string]any{"path": "audit.jsonl"}})
package factory
