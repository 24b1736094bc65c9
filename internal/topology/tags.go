package topology

// StaticTags is a Tagger backed by fixed per-kind, per-tag id lists.
type StaticTags map[string]map[string]map[int]bool

// NewCoreTags tags the given cores with tag.
func NewCoreTags(tag string, cores []int) StaticTags {
	t := StaticTags{}
	t.Add("core", tag, cores...)
	return t
}

func (t StaticTags) Add(kind, tag string, ids ...int) {
	byTag, ok := t[kind]
	if !ok {
		byTag = make(map[string]map[int]bool)
		t[kind] = byTag
	}
	set, ok := byTag[tag]
	if !ok {
		set = make(map[int]bool)
		byTag[tag] = set
	}
	for _, id := range ids {
		set[id] = true
	}
}

func (t StaticTags) HasTag(kind string, id int, tag string) bool {
	return t[kind][tag][id]
}
