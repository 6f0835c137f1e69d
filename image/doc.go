// Package image defines the assembly image format.
//
// An assembly image is a WebAssembly core module. Method bodies are
// exported WASM functions; the managed type system lives in a custom section
// named "interop.metadata" holding a protobuf-wire encoded Image:
//
//	img := &image.Image{
//	    Name:    "Game.Logic",
//	    Version: "1.2.0",
//	    Types: []image.TypeDef{{
//	        Namespace: "Game",
//	        Name:      "Player",
//	        Base:      "System.Object",
//	        Methods: []image.MethodDef{
//	            {Name: "Score", Params: []string{"System.Int64"}, Return: "System.Int64", Export: "player_score"},
//	        },
//	    }},
//	}
//	data, err := image.Attach(wasmCode, img)
//
// Extract recovers the metadata from a module. AssemblyName handles the
// "Name, Version=x.y.z" display form used for references.
package image
