package otelz

const (
	// DefaultAttributeCountLimit is the default maximum attributes per span.
	DefaultAttributeCountLimit = 128
	// DefaultAttributeValueLengthLimit disables value truncation.
	DefaultAttributeValueLengthLimit = -1
	// DefaultEventCountLimit is the default maximum events per span.
	DefaultEventCountLimit = 128
	// DefaultLinkCountLimit is the default maximum links per span.
	DefaultLinkCountLimit = 128
	// DefaultAttributePerEventCountLimit is the default maximum attributes per event.
	DefaultAttributePerEventCountLimit = 128
	// DefaultAttributePerLinkCountLimit is the default maximum attributes per link.
	DefaultAttributePerLinkCountLimit = 128
)

// SpanLimits bounds the data recorded on a span.
// A zero field takes its default, so a partial literal such as
// SpanLimits{EventCountLimit: 3} only changes the event limit. A negative
// count or length limit means unlimited.
type SpanLimits struct {
	AttributeCountLimit         int `mapstructure:"attributeCountLimit"`
	AttributeValueLengthLimit   int `mapstructure:"attributeValueLengthLimit"`
	EventCountLimit             int `mapstructure:"eventCountLimit"`
	LinkCountLimit              int `mapstructure:"linkCountLimit"`
	AttributePerEventCountLimit int `mapstructure:"attributePerEventCountLimit"`
	AttributePerLinkCountLimit  int `mapstructure:"attributePerLinkCountLimit"`
}

// NewSpanLimits returns the default limits.
func NewSpanLimits() SpanLimits {
	return SpanLimits{
		AttributeCountLimit:         DefaultAttributeCountLimit,
		AttributeValueLengthLimit:   DefaultAttributeValueLengthLimit,
		EventCountLimit:             DefaultEventCountLimit,
		LinkCountLimit:              DefaultLinkCountLimit,
		AttributePerEventCountLimit: DefaultAttributePerEventCountLimit,
		AttributePerLinkCountLimit:  DefaultAttributePerLinkCountLimit,
	}
}

// normalize replaces zero fields with their defaults.
func (l SpanLimits) normalize() SpanLimits {
	d := NewSpanLimits()
	if l.AttributeCountLimit == 0 {
		l.AttributeCountLimit = d.AttributeCountLimit
	}
	if l.AttributeValueLengthLimit == 0 {
		l.AttributeValueLengthLimit = d.AttributeValueLengthLimit
	}
	if l.EventCountLimit == 0 {
		l.EventCountLimit = d.EventCountLimit
	}
	if l.LinkCountLimit == 0 {
		l.LinkCountLimit = d.LinkCountLimit
	}
	if l.AttributePerEventCountLimit == 0 {
		l.AttributePerEventCountLimit = d.AttributePerEventCountLimit
	}
	if l.AttributePerLinkCountLimit == 0 {
		l.AttributePerLinkCountLimit = d.AttributePerLinkCountLimit
	}
	return l
}

// attributeSet is an insertion-ordered attribute collection with a count cap.
// New keys past the cap are dropped; existing keys are overwritten in place.
type attributeSet struct {
	attrs       []Attribute
	index       map[string]int
	countLimit  int
	lengthLimit int
	dropped     int
}

func newAttributeSet(countLimit, lengthLimit int) attributeSet {
	return attributeSet{countLimit: countLimit, lengthLimit: lengthLimit}
}

func (s *attributeSet) add(attrs ...Attribute) {
	for _, a := range attrs {
		if !a.Valid() {
			continue
		}
		a.Value = a.Value.truncate(s.lengthLimit)
		if i, ok := s.index[a.Key]; ok {
			s.attrs[i] = a
			continue
		}
		if s.countLimit >= 0 && len(s.attrs) >= s.countLimit {
			s.dropped++
			continue
		}
		if s.index == nil {
			s.index = make(map[string]int)
		}
		s.index[a.Key] = len(s.attrs)
		s.attrs = append(s.attrs, a)
	}
}

func (s *attributeSet) copyAttrs() []Attribute {
	if len(s.attrs) == 0 {
		return nil
	}
	return append([]Attribute(nil), s.attrs...)
}

// limitAttributes applies count and length limits to a standalone list,
// returning the kept attributes and the number dropped.
func limitAttributes(attrs []Attribute, countLimit, lengthLimit int) ([]Attribute, int) {
	set := newAttributeSet(countLimit, lengthLimit)
	set.add(attrs...)
	return set.copyAttrs(), set.dropped
}
