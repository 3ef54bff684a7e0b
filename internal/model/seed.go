package model

// Seed returns the demo household served before any cache or remote data
// exists: one parent, two children, a starter library and a few tasks, so a
// fresh install renders a usable board instead of an empty screen.
func Seed() Document {
	doc := Empty()
	doc.Users = []Person{
		{ID: "u_papa", Name: "Papa", Role: RoleParent, Avatar: "/avatars/Papa.png"},
		{ID: "u_leon", Name: "Leon", Role: RoleChild, Avatar: "/avatars/Leon.png"},
		{ID: "u_lina", Name: "Lina", Role: RoleChild, Avatar: "/avatars/Lina.png"},
	}
	doc.Library = []LibraryEntry{
		{ID: "lib_tanden", Title: "Tanden poetsen", Display: DisplayImage, ImageURL: "/pictos/tandenpoetsen.png", DefaultBlocks: []string{BlockPre, BlockPost}, DefaultDuration: 1, Category: "Zelfzorg"},
		{ID: "lib_ontbijt", Title: "Ontbijt", Display: DisplayText, DefaultBlocks: []string{BlockPre}, Category: "Eten"},
		{ID: "lib_inbad", Title: "In bad", Display: DisplayImage, ImageURL: "/pictos/inbad.png", DefaultBlocks: []string{BlockPost}, DefaultDuration: 10, Category: "Zelfzorg"},
		{ID: "lib_lezen", Title: "Lezen", Display: DisplayImage, ImageURL: "/pictos/lezen.png", DefaultBlocks: []string{BlockPost}, DefaultDuration: 15, Category: "Rust"},
		{ID: "lib_slapen", Title: "Slapen", Display: DisplayImage, ImageURL: "/pictos/slapen.png", DefaultBlocks: []string{BlockPost}, Category: "Rust"},
	}
	doc.Tasks = []Task{
		{ID: "t_tanden_lina", AssigneeID: "u_lina", Title: "Tanden poetsen", Display: DisplayImage, ImageURL: "/pictos/tandenpoetsen.png", Days: []int{1, 2, 3, 4, 5}, Blocks: []string{BlockPre, BlockPost}, DurationMinutes: 1, LibraryID: "lib_tanden"},
		{ID: "t_inbad_lina", AssigneeID: "u_lina", Title: "In bad", Display: DisplayImage, ImageURL: "/pictos/inbad.png", Days: []int{5}, Blocks: []string{BlockPost}, DurationMinutes: 10, LibraryID: "lib_inbad"},
		{ID: "t_lezen_lina", AssigneeID: "u_lina", Title: "Lezen", Display: DisplayImage, ImageURL: "/pictos/lezen.png", Days: []int{5}, Blocks: []string{BlockPost}, DurationMinutes: 15, LibraryID: "lib_lezen"},
		{ID: "t_slapen_lina", AssigneeID: "u_lina", Title: "Slapen", Display: DisplayImage, ImageURL: "/pictos/slapen.png", Days: []int{5}, Blocks: []string{BlockPost}, LibraryID: "lib_slapen"},
	}
	return doc
}
