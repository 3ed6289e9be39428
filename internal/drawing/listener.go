package drawing

import (
	"rafflebot/internal/chat"
	logx "rafflebot/pkg/logx"
)

var _ chat.Listener = (*Service)(nil)

// OnCommand handles !enter, !confirm and !claim.
func (s *Service) OnCommand(cmd chat.Command) {
	switch cmd.Name {
	case "enter":
		s.Enter(cmd.User, cmd.Channel)
	case "confirm", "claim":
		s.Claim(cmd.User, cmd.Channel)
	}
}

// OnJoined replays the current announcement to a channel that joined late.
func (s *Service) OnJoined(ch chat.Channel) {
	s.log.Info("joined channel", logx.Stringer("channel", ch))
	s.mu.Lock()
	ann := s.sess.Announcement
	s.mu.Unlock()
	if ann != "" && s.out != nil {
		s.out.Send(ch, ann)
	}
}

func (s *Service) OnLeft(ch chat.Channel) {
	s.log.Info("left channel", logx.Stringer("channel", ch))
}

func (s *Service) OnConnected(p chat.Platform) {
	s.log.Info("chat connected", logx.String("platform", string(p)))
}

func (s *Service) OnDisconnected(p chat.Platform, err error) {
	s.log.Warn("chat disconnected", logx.String("platform", string(p)), logx.Err(err))
}

func (s *Service) OnError(p chat.Platform, err error) {
	s.log.Error("chat error", logx.String("platform", string(p)), logx.Err(err))
}
