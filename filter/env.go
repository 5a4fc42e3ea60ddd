package filter

/*
The Env used in subscription filter expressions. Once this struct is fixed it
should not be changed, otherwise filters stored by clients may not compile
any more (f.e. if properties are renamed).
*/

type Sender struct {
	Id   string
	Nick string
	Role string
}

type Conversation struct {
	Id   string
	Type string
	Name string
}

type Env struct {
	Conversation
	Sender
	Table   string
	Event   string
	Created int64
}
